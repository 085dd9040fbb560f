package ocr

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	name    string
	args    []string
	content []byte
	stdout  string
	err     error
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.name = name
	f.args = args
	if len(args) > 0 {
		f.content, _ = os.ReadFile(args[0])
	}
	if f.err != nil {
		return nil, []byte("read error"), f.err
	}
	return []byte(f.stdout), nil, nil
}

func TestRecognize(t *testing.T) {
	r := &fakeRunner{stdout: "TOTAL\t\t12.00\r\n-----\n\n\n\nCASH  20.00  \n"}
	e := NewEngineWithRunner(Config{TessdataDir: "/td", TempDir: t.TempDir()}, r, nil)

	text, latency, err := e.Recognize(context.Background(), []byte("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "TOTAL 12.00\n\nCASH 20.00", text)
	assert.GreaterOrEqual(t, latency.Nanoseconds(), int64(0))

	assert.Equal(t, "tesseract", r.name)
	require.Len(t, r.args, 6)
	assert.Equal(t, []string{"stdout", "-l", "eng", "--tessdata-dir", "/td"}, r.args[1:])
	assert.Equal(t, []byte("png-bytes"), r.content)

	_, statErr := os.Stat(r.args[0])
	assert.True(t, os.IsNotExist(statErr), "scratch file should be removed")
}

func TestRecognizeError(t *testing.T) {
	r := &fakeRunner{err: errors.New("exit status 1")}
	e := NewEngineWithRunner(Config{Tesseract: "/usr/bin/tesseract", Language: "deu", PSM: 6, TempDir: t.TempDir()}, r, nil)

	_, _, err := e.Recognize(context.Background(), []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tesseract")
	assert.Equal(t, "/usr/bin/tesseract", r.name)
	assert.Equal(t, []string{"stdout", "-l", "deu", "--psm", "6"}, r.args[1:])
}

func TestRecognizeEmptyImage(t *testing.T) {
	r := &fakeRunner{}
	e := NewEngineWithRunner(Config{}, r, nil)
	_, _, err := e.Recognize(context.Background(), nil)
	assert.Error(t, err)
	assert.Empty(t, r.name)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"crlf", "a\r\nb\rc", "a\nb\nc"},
		{"spaces", "  a    b\t\tc  ", "a b c"},
		{"blank lines", "a\n\n\n\n\nb", "a\n\nb"},
		{"digits kept", "01/02 05", "01/02 05"},
		{"form feed", "page1\fpage2", "page1\npage2"},
		{"layout lines kept", "Invoice No  42  \nDate\t2024-01-02", "Invoice No 42\nDate 2024-01-02"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}
