package measurement

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// DefaultNameLayout names files after the time they were taken when the
// caller does not supply a name
const DefaultNameLayout = "FSW_2006_01_02_15-04-05"

// Recorder writes records into a folder.  It is not thread safe.
type Recorder struct {
	// Root is the folder files are written to
	Root string

	// Overwrite allows an existing file to be replaced
	Overwrite bool

	now func() time.Time
}

// NewRecorder returns a Recorder writing to root, which must exist
func NewRecorder(root string) (*Recorder, error) {
	r := &Recorder{now: time.Now}
	if err := r.SetPath(root); err != nil {
		return nil, err
	}
	return r, nil
}

// SetPath changes the folder files are written to.  Either slash style is
// accepted.  The folder must exist; it is not created.
func (r *Recorder) SetPath(path string) error {
	path = filepath.FromSlash(strings.ReplaceAll(path, `\`, "/"))
	st, err := os.Stat(path)
	if err != nil {
		return errors.Wrapf(err, "path %q does not exist", path)
	}
	if !st.IsDir() {
		return errors.Errorf("path %q is not a directory", path)
	}
	r.Root = path
	return nil
}

// NameError is returned for names that would leave the recorder's folder
type NameError struct {
	Name string
}

func (e *NameError) Error() string {
	return fmt.Sprintf("measurement name %q must be a plain file name", e.Name)
}

// CheckName returns a *NameError if name contains a path separator or is a
// relative path element.  The empty name is valid.
func CheckName(name string) error {
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return &NameError{Name: name}
	}
	return nil
}

// Name returns the file name used for name.  An empty name becomes a
// timestamp, and the .txt extension is added when missing.
func (r *Recorder) Name(name string) string {
	if name == "" {
		now := time.Now
		if r.now != nil {
			now = r.now
		}
		name = now().Format(DefaultNameLayout)
	}
	if !strings.HasSuffix(name, Ext) {
		name += Ext
	}
	return name
}

// Write stores rec under name and returns the full path.  rec.Name is set
// to the final file name before encoding.
func (r *Recorder) Write(name string, rec *Record) (string, error) {
	if err := CheckName(name); err != nil {
		return "", err
	}
	rec.Name = r.Name(name)
	fn := filepath.Join(r.Root, rec.Name)
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !r.Overwrite {
		flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}
	f, err := os.OpenFile(fn, flags, 0666)
	if err != nil {
		return fn, errors.Wrap(err, "creating measurement file")
	}
	err = rec.Encode(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fn, errors.Wrapf(err, "writing %s", fn)
	}
	log.WithFields(log.Fields{"file": fn, "points": len(rec.Trace)}).Debug("measurement written")
	return fn, nil
}
