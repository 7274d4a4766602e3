package file

import (
	"bufio"
	"bytes"
	"strings"
	"testing"
)

func TestShQuote(t *testing.T) {
	cases := map[string]string{
		"/tmp/plain.txt":      "'/tmp/plain.txt'",
		"/tmp/with space.txt": "'/tmp/with space.txt'",
		"/tmp/it's.txt":       `'/tmp/it'\''s.txt'`,
		"$(reboot)":           "'$(reboot)'",
	}
	for in, want := range cases {
		if got := shQuote(in); got != want {
			t.Errorf("shQuote(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestScpSendFile(t *testing.T) {
	data := []byte("file payload")

	// The remote side acks three times: session start, header, data
	remote := bytes.NewReader([]byte{0, 0, 0})
	var sent bytes.Buffer

	err := scpSendFile(&sent, bufio.NewReader(remote), "dest.txt", 0o644, data)
	if err != nil {
		t.Fatalf("scpSendFile failed: %v", err)
	}

	wire := sent.Bytes()
	header := "C0644 12 dest.txt\n"
	if !bytes.HasPrefix(wire, []byte(header)) {
		t.Errorf("Expected header %q, got %q", header, wire)
	}
	rest := wire[len(header):]
	if !bytes.Equal(rest, append(data, 0)) {
		t.Errorf("Expected payload plus completion byte, got %q", rest)
	}
}

func TestScpSendFileRemoteError(t *testing.T) {
	// Initial ack ok, remote rejects the header with code 1 and a message
	remote := bytes.NewReader(append([]byte{0, 1}, []byte("scp: permission denied\n")...))
	var sent bytes.Buffer

	err := scpSendFile(&sent, bufio.NewReader(remote), "dest.txt", 0o644, []byte("x"))
	if err == nil {
		t.Fatal("Expected an error from the remote status byte")
	}
	if !strings.Contains(err.Error(), "permission denied") {
		t.Errorf("Expected remote message in error, got: %v", err)
	}
}

func TestScpReceiveFile(t *testing.T) {
	data := "received payload"

	var remote bytes.Buffer
	remote.WriteString("C0644 16 src.txt\n")
	remote.WriteString(data)
	remote.WriteByte(0)

	var acks bytes.Buffer
	var dst bytes.Buffer
	err := scpReceiveFile(&acks, bufio.NewReader(&remote), &dst)
	if err != nil {
		t.Fatalf("scpReceiveFile failed: %v", err)
	}

	if dst.String() != data {
		t.Errorf("Expected %q, got %q", data, dst.String())
	}
	// Three zero-byte acks: start, after header, after content
	if !bytes.Equal(acks.Bytes(), []byte{0, 0, 0}) {
		t.Errorf("Expected three acks, got %v", acks.Bytes())
	}
}

func TestScpReceiveFileBadHeader(t *testing.T) {
	var remote bytes.Buffer
	remote.WriteString("X bogus header\n")

	var acks, dst bytes.Buffer
	err := scpReceiveFile(&acks, bufio.NewReader(&remote), &dst)
	if err == nil {
		t.Fatal("Expected an error for a non-C header")
	}
	if !strings.Contains(err.Error(), "invalid file header") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestCheckSCPStatus(t *testing.T) {
	// Zero byte means ok
	if err := checkSCPStatus(bufio.NewReader(bytes.NewReader([]byte{0}))); err != nil {
		t.Errorf("Expected nil for status 0, got: %v", err)
	}

	// Non-zero carries an error line
	r := bufio.NewReader(bytes.NewReader(append([]byte{2}, []byte("scp: no such file\n")...)))
	err := checkSCPStatus(r)
	if err == nil {
		t.Fatal("Expected an error for status 2")
	}
	if err.Error() != "scp: no such file" {
		t.Errorf("Unexpected error message: %v", err)
	}
}
