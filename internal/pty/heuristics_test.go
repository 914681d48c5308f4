package pty

import "testing"

func TestMatchesPrompt(t *testing.T) {
	tests := []struct {
		name  string
		chunk string
		want  bool
	}{
		{"bash prompt", "user@host:~$ ", true},
		{"root prompt", "root@host:/# ", true},
		{"zsh percent", "host% ", true},
		{"fancy arrow", "❯ ", true},
		{"angle bracket", "mysql> ", true},
		{"after output", "hi\nuser@host:~$ ", true},
		{"colored prompt", "\x1b[32muser@host\x1b[0m:~$ ", true},
		{"mid output", "downloading files\n", false},
		{"empty", "", false},
		{"whitespace only", "   \n", false},
		{"plain text", "hello world", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchesPrompt([]byte(tt.chunk)); got != tt.want {
				t.Errorf("MatchesPrompt(%q) = %v, want %v", tt.chunk, got, tt.want)
			}
		})
	}
}

func TestMatchesBusy(t *testing.T) {
	tests := []struct {
		name  string
		chunk string
		want  bool
	}{
		{"percentage", "downloading 45% complete", true},
		{"compiling", "Compiling broker v0.1.0", true},
		{"building lowercase", "building image layers", true},
		{"installing", "Installing dependencies", true},
		{"ellipsis", "waiting for lock...", true},
		{"unicode ellipsis", "resolving…", true},
		{"spinner frame", "⠙ fetching", true},
		{"plain prompt", "user@host:~$ ", false},
		{"finished output", "done\n", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchesBusy([]byte(tt.chunk)); got != tt.want {
				t.Errorf("MatchesBusy(%q) = %v, want %v", tt.chunk, got, tt.want)
			}
		})
	}
}

func TestStripANSI(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"no escapes", "plain text", "plain text"},
		{"color codes", "\x1b[31mred\x1b[0m", "red"},
		{"cursor movement", "\x1b[2Jcleared", "cleared"},
		{"osc title", "\x1b]0;my title\x07rest", "rest"},
		{"charset", "\x1b(Btext", "text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(StripANSI([]byte(tt.input))); got != tt.want {
				t.Errorf("StripANSI(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseCwd(t *testing.T) {
	tests := []struct {
		name  string
		chunk string
		want  string
	}{
		{"bel terminated", "\x1b]7;file://host/home/alice\x07", "/home/alice"},
		{"st terminated", "\x1b]7;file://host/tmp\x1b\\", "/tmp"},
		{"last report wins", "\x1b]7;file://host/a\x07output\x1b]7;file://host/b\x07", "/b"},
		{"percent encoded", "\x1b]7;file://host/with%20space\x07", "/with space"},
		{"no report", "just some output", ""},
		{"incomplete report", "\x1b]7;file://host/partial", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseCwd([]byte(tt.chunk)); got != tt.want {
				t.Errorf("ParseCwd(%q) = %q, want %q", tt.chunk, got, tt.want)
			}
		})
	}
}
