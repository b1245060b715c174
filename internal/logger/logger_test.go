package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewWithOutput(t *testing.T) {
	tests := []struct {
		level, format string
		wantLevel     logrus.Level
		wantJSON      bool
	}{
		{"debug", "json", logrus.DebugLevel, true},
		{"warn", "text", logrus.WarnLevel, false},
		{"nonsense", "", logrus.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.level+"/"+tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			log := NewWithOutput(&buf, tt.level, tt.format)
			if log.GetLevel() != tt.wantLevel {
				t.Errorf("level: got %v, want %v", log.GetLevel(), tt.wantLevel)
			}

			log.WithField("file", "statement.pdf").Error("upload failed")
			out := buf.String()
			if isJSON := strings.HasPrefix(out, "{"); isJSON != tt.wantJSON {
				t.Errorf("json output: got %v, want %v (%q)", isJSON, tt.wantJSON, out)
			}
			if !strings.Contains(out, "statement.pdf") {
				t.Errorf("missing field in %q", out)
			}
		})
	}
}
