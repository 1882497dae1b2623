package message

import "testing"

func TestNormalizeThreadSubject(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Hello", "Hello"},
		{"Re: Hello", "Hello"},
		{"RE: re: Hello", "Hello"},
		{"Re:Hello", "Hello"},
		{"Hello -Re: #12-", "Hello"},
		{"  spaced  ", "spaced"},
	}
	for _, tt := range tests {
		if got := NormalizeThreadSubject(tt.in); got != tt.want {
			t.Errorf("NormalizeThreadSubject(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if !SubjectsMatchThread("Re: hello", "HELLO") {
		t.Error("subjects should match")
	}
	if got := ReplySubject("Re: Re: Hello"); got != "Re: Hello" {
		t.Errorf("ReplySubject = %q", got)
	}
}
