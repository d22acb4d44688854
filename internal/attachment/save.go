package attachment

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/fho/imap-attachments/internal/metrics"
)

var (
	ErrNotWritable = errors.New("destination is not writable")
	ErrNoDirectory = errors.New("destination directory does not exist")
	ErrNoFilename  = errors.New("attachment has no filename")
)

// filePerm is the mode of saved attachments.
const filePerm fs.FileMode = 0o644

// SaveToDirectory saves the decoded attachment in dir, the file is named
// like the attachment. Only the last element of the attachment's filename
// is used.
func (a *Attachment) SaveToDirectory(dir string) error {
	fi, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoDirectory, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrNoDirectory, dir)
	}

	name, err := a.BaseFilename()
	if err != nil {
		return err
	}

	return a.SaveAs(filepath.Join(dir, name))
}

// BaseFilename returns the last element of the attachment's filename.
// If the attachment has no filename or it does not name a file,
// ErrNoFilename is returned.
func (a *Attachment) BaseFilename() (string, error) {
	name, ok := a.Filename()
	if !ok {
		return "", ErrNoFilename
	}

	name = filepath.Base(name)
	if name == "." || name == ".." || name == string(filepath.Separator) {
		return "", fmt.Errorf("%w: %q can not be used as filename", ErrNoFilename, name)
	}

	return name, nil
}

// SaveAs writes the decoded attachment to path.
// The content is streamed from the server and written to a temporary file
// in the same directory that replaces path when it was written completely.
// If path exists and is not writable, ErrNotWritable is returned. If the
// parent directory does not exist ErrNoDirectory is returned, if it is not
// writable ErrNotWritable.
func (a *Attachment) SaveAs(path string) error {
	err := a.saveAs(path)
	if err != nil {
		metrics.AttachmentSaveErrors.Inc()
		return err
	}

	metrics.AttachmentsSaved.Inc()
	a.logger.Info("saved attachment", "event", "attachment.saved", "path", path)

	return nil
}

func (a *Attachment) saveAs(path string) (err error) {
	if err := checkDestination(path); err != nil {
		return err
	}

	partID := a.partID
	if partID == "" {
		partID = defaultPartID
	}

	rc, err := a.src.OpenPart(a.uid, partID)
	if err != nil {
		return fmt.Errorf("fetching part %s failed: %w", partID, err)
	}
	defer func() {
		if cerr := rc.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("closing part reader failed: %w", cerr))
		}
	}()

	r, err := decodingReader(rc, a.part.Encoding())
	if err != nil {
		return err
	}

	return writeFile(path, r)
}

// writeFile writes the content of r to a temporary file and renames it
// to path on success.
func writeFile(path string, r io.Reader) error {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temporary file failed: %w", err)
	}

	tmpPath := f.Name()

	_, err = io.Copy(f, r)
	if err != nil {
		return errors.Join(
			fmt.Errorf("writing %s failed: %w", tmpPath, err),
			f.Close(),
			os.Remove(tmpPath),
		)
	}

	err = f.Chmod(filePerm)
	if err != nil {
		return errors.Join(
			fmt.Errorf("changing mode of %s failed: %w", tmpPath, err),
			f.Close(),
			os.Remove(tmpPath),
		)
	}

	err = f.Close()
	if err != nil {
		return errors.Join(
			fmt.Errorf("closing %s failed: %w", tmpPath, err),
			os.Remove(tmpPath),
		)
	}

	err = os.Rename(tmpPath, path)
	if err != nil {
		return errors.Join(
			fmt.Errorf("renaming %s to %s failed: %w", tmpPath, path, err),
			os.Remove(tmpPath),
		)
	}

	return nil
}

func checkDestination(path string) error {
	fi, err := os.Stat(path)
	if err == nil {
		if fi.IsDir() {
			return fmt.Errorf("%w: %s is a directory", ErrNotWritable, path)
		}

		if unix.Access(path, unix.W_OK) != nil {
			return fmt.Errorf("%w: %s", ErrNotWritable, path)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("checking destination failed: %w", err)
	}

	dir := filepath.Dir(path)

	fi, err = os.Stat(dir)
	if err != nil || !fi.IsDir() {
		return fmt.Errorf("%w: %s", ErrNoDirectory, dir)
	}

	if unix.Access(dir, unix.W_OK) != nil {
		return fmt.Errorf("%w: directory %s", ErrNotWritable, dir)
	}

	return nil
}
