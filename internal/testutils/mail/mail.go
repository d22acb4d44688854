package mail

import (
	"os"
	"path/filepath"
	"testing"
)

const (
	AttachmentsMailSubject = "Attachments of all kinds"
	PlainMailSubject       = "An RFC 822 formatted message"
	LegacyMailSubject      = "Legacy charset filenames"

	// AttachmentsMailPDF is the decoded content of the pdf attachment of
	// the attachments mail.
	AttachmentsMailPDF = "%PDF-1.4\nfake pdf content\n"
	// AttachmentsMailText is the decoded content of the text attachment
	// of the attachments mail, it is ISO-8859-1 encoded.
	AttachmentsMailText = "Gr\xfc\xdfe aus Berlin und Hamburg"
	// AttachmentsMailEmbeddedName is the filename of the embedded message
	// of the attachments mail.
	AttachmentsMailEmbeddedName = "Weitergeleitete Nachricht über Grüße.eml"
)

func findProjectRoot(t *testing.T) string {
	t.Helper()
	const projectRootfile = "go.mod"
	path, err := os.Getwd()
	if err != nil {
		t.Fatalf("could not detect working dir: %s", err)
	}

	for {
		_, err = os.Stat(filepath.Join(path, projectRootfile))
		if err == nil {
			return path
		}

		if os.IsNotExist(err) {
			subdir := filepath.Join(path, "..")
			if subdir == path {
				t.Fatalf("could not find project root directory containing %q file", projectRootfile)
			}
			path = subdir

			continue
		}
		t.Fatalf("checking if directory exists failed: %s", err)
		return ""
	}
}

func testdataPath(t *testing.T, name string) string {
	proot := findProjectRoot(t)
	return filepath.Join(proot, "internal", "testutils", "mail", "testdata", name)
}

// TestAttachmentsMailPath returns the path of a multipart message with a
// base64 encoded pdf, a quoted-printable text file and an embedded message
// as attachments.
func TestAttachmentsMailPath(t *testing.T) string {
	return testdataPath(t, "attachments.mail")
}

// TestPlainMailPath returns the path of a text/plain message without
// attachments.
func TestPlainMailPath(t *testing.T) string {
	return testdataPath(t, "plain.mail")
}

// TestLegacyCharsetMailPath returns the path of a message with two
// attachments whose filenames are ISO-8859-1 labeled encoded-words. The
// filename of part 2 is ISO-8859-1 encoded, the name of part 3 is UTF-8
// encoded but labeled as ISO-8859-1.
func TestLegacyCharsetMailPath(t *testing.T) string {
	return testdataPath(t, "legacy-charset.mail")
}
