package attachment

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fho/imap-attachments/internal/bodystructure"
	"github.com/fho/imap-attachments/internal/testutils/mock"
)

func assertDirEntries(t *testing.T, dir string, expected ...string) {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}

	assert.ElementsMatch(t, expected, names)
}

func assertReadersClosed(t *testing.T, src *mock.Source) {
	t.Helper()

	for _, rc := range src.Opened() {
		assert.True(t, rc.Closed(), "part reader was not closed")
	}
}

func TestSaveAs(t *testing.T) {
	tcs := []struct {
		name     string
		encoding string
		content  string
		expected string
	}{
		{
			name:     "base64",
			encoding: "base64",
			content:  "SGVsbG8g\r\nV29ybGQ=\r\n",
			expected: "Hello World",
		},
		{
			name:     "quoted-printable",
			encoding: "quoted-printable",
			content:  "Gr=C3=BC=C3=9Fe =\r\naus Berlin",
			expected: "Grüße aus Berlin",
		},
		{
			name:     "7bit",
			encoding: "7bit",
			content:  "plain =C3=A4 text\r\n",
			expected: "plain =C3=A4 text\r\n",
		},
		{
			name:     "unknown encoding is written unchanged",
			encoding: "x-uuencode",
			content:  "begin 644 a\n",
			expected: "begin 644 a\n",
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			src := mock.NewSource()
			src.Messages[testUID] = &mock.Message{
				Parts: map[string][]byte{"2": []byte(tc.content)},
			}

			dir := t.TempDir()
			path := filepath.Join(dir, "out.bin")

			a := newTestAttachment(t, src, leaf(tc.encoding, nil, nil), "2")
			require.NoError(t, a.SaveAs(path))

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, string(data))

			assertDirEntries(t, dir, "out.bin")
			assertReadersClosed(t, src)
			assert.Equal(t, 1, src.Calls("OpenPart"))
		})
	}
}

func TestSaveAs_ReplacesExistingFile(t *testing.T) {
	src := mock.NewSource()
	src.Messages[testUID] = &mock.Message{
		Parts: map[string][]byte{"2": []byte("new")},
	}

	path := filepath.Join(t.TempDir(), "out.txt")
	require.NoError(t, os.WriteFile(path, []byte("old content"), 0o600))

	a := newTestAttachment(t, src, leaf("7bit", nil, nil), "2")
	require.NoError(t, a.SaveAs(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestSaveAs_FileMode(t *testing.T) {
	src := mock.NewSource()
	src.Messages[testUID] = &mock.Message{
		Parts: map[string][]byte{"2": []byte("content")},
	}

	path := filepath.Join(t.TempDir(), "out.txt")

	a := newTestAttachment(t, src, leaf("7bit", nil, nil), "2")
	require.NoError(t, a.SaveAs(path))

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o644), fi.Mode().Perm())
}

func TestSaveAs_DefaultPart(t *testing.T) {
	src := mock.NewSource()
	src.Messages[testUID] = &mock.Message{
		Parts: map[string][]byte{"1": []byte("body")},
	}

	path := filepath.Join(t.TempDir(), "out.txt")

	a := newTestAttachment(t, src, leaf("7bit", nil, nil), "")
	require.NoError(t, a.SaveAs(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "body", string(data))
}

func TestSaveAs_MissingDirectory(t *testing.T) {
	src := mock.NewSource()
	dir := t.TempDir()
	path := filepath.Join(dir, "missing", "out.txt")

	a := newTestAttachment(t, src, leaf("7bit", nil, nil), "2")

	err := a.SaveAs(path)
	require.ErrorIs(t, err, ErrNoDirectory)

	assertDirEntries(t, dir)
	assert.Zero(t, src.Calls("OpenPart"))
}

func TestSaveAs_NotWritable(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("file permissions are not enforced for root")
	}

	src := mock.NewSource()
	a := newTestAttachment(t, src, leaf("7bit", nil, nil), "2")

	dir := t.TempDir()
	path := filepath.Join(dir, "readonly.txt")
	require.NoError(t, os.WriteFile(path, []byte("keep"), 0o400))

	err := a.SaveAs(path)
	require.ErrorIs(t, err, ErrNotWritable)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "keep", string(data))

	roDir := filepath.Join(dir, "ro")
	require.NoError(t, os.Mkdir(roDir, 0o500))
	t.Cleanup(func() { _ = os.Chmod(roDir, 0o700) })

	err = a.SaveAs(filepath.Join(roDir, "out.txt"))
	require.ErrorIs(t, err, ErrNotWritable)

	assert.Zero(t, src.Calls("OpenPart"))
}

func TestSaveAs_DestinationIsDirectory(t *testing.T) {
	a := newTestAttachment(t, mock.NewSource(), leaf("7bit", nil, nil), "2")

	err := a.SaveAs(t.TempDir())
	require.ErrorIs(t, err, ErrNotWritable)
}

func TestSaveAs_FetchFails(t *testing.T) {
	src := mock.NewSource()
	src.Err = errors.New("connection reset")

	dir := t.TempDir()
	a := newTestAttachment(t, src, leaf("7bit", nil, nil), "2")

	err := a.SaveAs(filepath.Join(dir, "out.txt"))
	require.ErrorIs(t, err, src.Err)

	assertDirEntries(t, dir)
}

func TestSaveAs_DecodingFailsRemovesFile(t *testing.T) {
	src := mock.NewSource()
	src.Messages[testUID] = &mock.Message{
		Parts: map[string][]byte{"2": []byte("!!!! not base64 !!!!")},
	}

	dir := t.TempDir()
	a := newTestAttachment(t, src, leaf("base64", nil, nil), "2")

	err := a.SaveAs(filepath.Join(dir, "out.txt"))
	require.Error(t, err)

	assertDirEntries(t, dir)
	assertReadersClosed(t, src)
}

func TestSaveToDirectory(t *testing.T) {
	src := mock.NewSource()
	src.Messages[testUID] = &mock.Message{
		Parts: map[string][]byte{"2": []byte("w6Q=")},
	}

	dir := t.TempDir()
	part := leaf("base64", nil, []bodystructure.Param{{Key: "filename", Value: "../../etc/=?UTF-8?Q?=C3=A4?=.txt"}})

	a := newTestAttachment(t, src, part, "2")
	require.NoError(t, a.SaveToDirectory(dir))

	data, err := os.ReadFile(filepath.Join(dir, "ä.txt"))
	require.NoError(t, err)
	assert.Equal(t, "ä", string(data))
	assertDirEntries(t, dir, "ä.txt")
}

func TestSaveToDirectory_NoFilename(t *testing.T) {
	a := newTestAttachment(t, mock.NewSource(), leaf("7bit", nil, nil), "2")

	err := a.SaveToDirectory(t.TempDir())
	require.ErrorIs(t, err, ErrNoFilename)
}

func TestSaveToDirectory_NoDirectory(t *testing.T) {
	part := leaf("7bit", nil, []bodystructure.Param{{Key: "filename", Value: "a.txt"}})
	a := newTestAttachment(t, mock.NewSource(), part, "2")

	dir := t.TempDir()
	err := a.SaveToDirectory(filepath.Join(dir, "missing"))
	require.ErrorIs(t, err, ErrNoDirectory)

	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))

	err = a.SaveToDirectory(file)
	require.ErrorIs(t, err, ErrNoDirectory)
}

func TestBaseFilename(t *testing.T) {
	tcs := []struct {
		filename string
		expected string
		err      bool
	}{
		{filename: "a.txt", expected: "a.txt"},
		{filename: "dir/sub/a.txt", expected: "a.txt"},
		{filename: "..", err: true},
		{filename: "/", err: true},
		{filename: "", err: true},
	}

	for _, tc := range tcs {
		t.Run(tc.filename, func(t *testing.T) {
			var dispParams []bodystructure.Param
			if tc.filename != "" {
				dispParams = []bodystructure.Param{{Key: "filename", Value: tc.filename}}
			}

			a := newTestAttachment(t, mock.NewSource(), leaf("7bit", nil, dispParams), "2")

			name, err := a.BaseFilename()
			if tc.err {
				require.ErrorIs(t, err, ErrNoFilename)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.expected, name)
		})
	}
}
