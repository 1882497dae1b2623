package ftn

import "testing"

func TestParseKludgeVariants(t *testing.T) {
	ks := ParseKludges([]string{
		"\x01MSGID: user@2:5020/1042.3@fidonet 0badf00d",
		"REPLY: 1:1/1 12345678",
		"INTL 1:2/3 4:5/6",
		"FMPT 9",
		"TOPT 2",
		"TZUTC: -0330",
		"REPLYADDR 1:2/3.4",
		"CHRS: CP866 2",
		"PID: v3ftn 1.0",
		"FLAGS DIR",
		"Via 1:2/3 @20240101.000000 v3ftn",
	})

	id, ok := ks.MsgID()
	if !ok || id.Value != "user@2:5020/1042.3@fidonet 0badf00d" || id.Author.String() != "2:5020/1042.3" {
		t.Errorf("MsgID: %+v %v", id, ok)
	}
	if r, ok := ks.Reply(); !ok || r != "1:1/1 12345678" {
		t.Errorf("Reply: %q %v", r, ok)
	}
	intl, ok := ks.Intl()
	if !ok || intl.Dest.String() != "1:2/3" || intl.Orig.String() != "4:5/6" {
		t.Errorf("Intl: %+v %v", intl, ok)
	}
	if p, ok := ks.FromPoint(); !ok || p != 9 {
		t.Errorf("FromPoint: %d %v", p, ok)
	}
	if p, ok := ks.ToPoint(); !ok || p != 2 {
		t.Errorf("ToPoint: %d %v", p, ok)
	}
	if tz, ok := ks.TZUTC(); !ok || tz != -210 {
		t.Errorf("TZUTC: %d %v", tz, ok)
	}
	if a, ok := ks.ReplyAddr(); !ok || a.String() != "1:2/3.4" {
		t.Errorf("ReplyAddr: %s %v", a, ok)
	}
	if c, ok := ks.Charset(); !ok || c != CharsetCP866 {
		t.Errorf("Charset: %q %v", c, ok)
	}

	if p, ok := ks[8].(ProductKludge); !ok || p.Tag != "PID" || p.Value != "v3ftn 1.0" {
		t.Errorf("PID: %#v", ks[8])
	}
	if u, ok := ks[9].(UnknownKludge); !ok || u.Name != "FLAGS" || u.Value != "DIR" {
		t.Errorf("FLAGS: %#v", ks[9])
	}
	if ks[10].Raw() != "Via 1:2/3 @20240101.000000 v3ftn" {
		t.Errorf("Raw: %q", ks[10].Raw())
	}
}

func TestParseKludgeMalformedIsUnknown(t *testing.T) {
	for _, line := range []string{"INTL garbage", "FMPT x", "TZUTC: soon", "CHRS:"} {
		if _, ok := ParseKludge(line).(UnknownKludge); !ok {
			t.Errorf("ParseKludge(%q) should be unrecognized", line)
		}
	}
	id := ParseKludge("MSGID: <abc@example.com> 1234").(MsgIDKludge)
	if !id.Author.IsZero() {
		t.Errorf("non-FTN MSGID should have no author, got %s", id.Author)
	}
}

func TestCanonicalCharset(t *testing.T) {
	cases := map[string]string{
		"IBMPC 2":   CharsetCP437,
		"cp850":     CharsetCP850,
		"LATIN-1 2": CharsetLatin1,
		"UTF-8 4":   CharsetUTF8,
		"x-unknown": "X-UNKNOWN",
		"":          "",
		"koi8-r":    CharsetKOI8R,
		"russian 2": CharsetCP866,
		"MAC":       CharsetMacintosh,
		"CP1251 2":  CharsetWin1251,
	}
	for in, want := range cases {
		if got := CanonicalCharset(in); got != want {
			t.Errorf("CanonicalCharset(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDecodeTextFallbacks(t *testing.T) {
	text, used, lossy := DecodeText("\x8e\x99", "FOO")
	if text != "ÄÖ" || used != CharsetCP437 || lossy {
		t.Errorf("unknown declared charset: %q %q %v", text, used, lossy)
	}

	text, used, _ = DecodeText("\xc1\xc2", "CP1251")
	if text != "БВ" || used != CharsetWin1251 {
		t.Errorf("declared charset first: %q %q", text, used)
	}
}

func TestEncodeText(t *testing.T) {
	if got := EncodeText("café", "IBMPC"); got != "caf\x82" {
		t.Errorf("EncodeText CP437: %q", got)
	}
	if got := EncodeText("日本", "CP437"); got != "??" {
		t.Errorf("unrepresentable runes: %q", got)
	}
	if got := EncodeText("café", "UTF-8"); got != "café" {
		t.Errorf("UTF-8 passthrough: %q", got)
	}
}
