package logger

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"testing"
)

// syncBuffer lets concurrent writers share a bytes.Buffer in tests.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

// captureOutput captures log output during test execution
func captureOutput(f func()) string {
	buf := &syncBuffer{}
	SetOutput(buf)
	defer SetOutput(os.Stdout)

	f()
	return buf.String()
}

func TestSetLevel(t *testing.T) {
	originalLevel := GetLevel()
	defer SetLevel(originalLevel)

	for _, level := range []LogLevel{TRACE, DEBUG, INFO, WARN, ERROR, FATAL} {
		t.Run(levelToString(level), func(t *testing.T) {
			SetLevel(level)
			if GetLevel() != level {
				t.Errorf("SetLevel() = %v, want %v", GetLevel(), level)
			}
		})
	}
}

func TestGetLevelFromString(t *testing.T) {
	tests := []struct {
		name          string
		levelStr      string
		expectedLevel LogLevel
	}{
		{"trace level", "TRACE", TRACE},
		{"debug level", "DEBUG", DEBUG},
		{"info level", "INFO", INFO},
		{"warn level", "WARN", WARN},
		{"warning alias", "warning", WARN},
		{"error level", "ERROR", ERROR},
		{"fatal level", "FATAL", FATAL},
		{"mixed case warn", "WaRn", WARN},
		{"padded debug", "  debug ", DEBUG},
		{"unknown level", "UNKNOWN", INFO},
		{"empty string", "", INFO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetLevelFromString(tt.levelStr); got != tt.expectedLevel {
				t.Errorf("GetLevelFromString(%q) = %v, want %v", tt.levelStr, got, tt.expectedLevel)
			}
		})
	}
}

func TestLevelToString(t *testing.T) {
	if got := levelToString(LogLevel(99)); got != "UNKNOWN" {
		t.Errorf("levelToString(99) = %q, want UNKNOWN", got)
	}
	if got := levelToString(WARN); got != "WARN" {
		t.Errorf("levelToString(WARN) = %q, want WARN", got)
	}
}

func TestLogLevelFiltering(t *testing.T) {
	tests := []struct {
		name            string
		currentLevel    LogLevel
		logFunc         func(string, ...any)
		shouldBePrinted bool
	}{
		{"debug with debug level", DEBUG, Debug, true},
		{"info with debug level", DEBUG, Info, true},
		{"trace with debug level", DEBUG, Trace, false},
		{"debug with info level", INFO, Debug, false},
		{"warn with info level", INFO, Warn, true},
		{"info with warn level", WARN, Info, false},
		{"error with warn level", WARN, Error, true},
		{"warn with error level", ERROR, Warn, false},
	}

	originalLevel := GetLevel()
	defer SetLevel(originalLevel)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetLevel(tt.currentLevel)
			output := captureOutput(func() {
				tt.logFunc("test message")
			})

			if tt.shouldBePrinted && output == "" {
				t.Errorf("Expected log output but got none")
			}
			if !tt.shouldBePrinted && output != "" {
				t.Errorf("Expected no log output but got %q", output)
			}
		})
	}
}

func TestLogFormatting(t *testing.T) {
	originalLevel := GetLevel()
	defer SetLevel(originalLevel)
	SetLevel(DEBUG)

	output := captureOutput(func() {
		Error("error: %v, code: %d", fmt.Errorf("test error"), 500)
	})

	if !strings.Contains(output, "[ERROR] error: test error, code: 500") {
		t.Errorf("unexpected output %q", output)
	}
}

func TestFatalExits(t *testing.T) {
	originalExit := exitFunc
	defer func() { exitFunc = originalExit }()

	code := -1
	exitFunc = func(c int) { code = c }

	output := captureOutput(func() {
		Fatal("cannot bind port %d", 8080)
	})

	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(output, "[FATAL] cannot bind port 8080") {
		t.Errorf("unexpected output %q", output)
	}
}

func TestLogAccessLineFormat(t *testing.T) {
	output := captureOutput(func() {
		Log("10.0.0.7", "Visiting: example.com")
	})

	pattern := regexp.MustCompile(`^\[\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\] \[10\.0\.0\.7\] Visiting: example\.com\n$`)
	if !pattern.MatchString(output) {
		t.Errorf("access line %q does not match %s", output, pattern)
	}
}

func TestLogSuppressesNoise(t *testing.T) {
	tests := []struct {
		name    string
		msg     string
		printed bool
	}{
		{"captive portal check", "Visiting: detectportal.firefox.com", false},
		{"push service", "HTTPS Tunneling for: push.services.mozilla.com", false},
		{"regular host", "Visiting: example.org", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output := captureOutput(func() {
				Log(SystemSource, tt.msg)
			})
			if tt.printed != (output != "") {
				t.Errorf("Log(%q) printed %q, want printed=%v", tt.msg, output, tt.printed)
			}
		})
	}
}

func TestLogConcurrentLinesDoNotInterleave(t *testing.T) {
	const writers = 20
	const perWriter = 50

	output := captureOutput(func() {
		var wg sync.WaitGroup
		wg.Add(writers)
		for i := 0; i < writers; i++ {
			go func(id int) {
				defer wg.Done()
				for j := 0; j < perWriter; j++ {
					Logf(fmt.Sprintf("client-%d", id), "message %d from %d", j, id)
				}
			}(i)
		}
		wg.Wait()
	})

	lines := strings.Split(strings.TrimSuffix(output, "\n"), "\n")
	if len(lines) != writers*perWriter {
		t.Fatalf("got %d lines, want %d", len(lines), writers*perWriter)
	}
	pattern := regexp.MustCompile(`^\[[^\]]+\] \[client-(\d+)\] message \d+ from (\d+)$`)
	for _, line := range lines {
		m := pattern.FindStringSubmatch(line)
		if m == nil || m[1] != m[2] {
			t.Fatalf("malformed line %q", line)
		}
	}
}

func TestWithRequestID(t *testing.T) {
	got := WithRequestID("12345", "Test %s %d", "message", 42)
	if got != "[12345] Test message 42" {
		t.Errorf("WithRequestID() = %q", got)
	}
}
