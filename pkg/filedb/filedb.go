// Package filedb is a simple append-only journal based on files.
// Each record is one JSON line; readers follow the file with tail.
package filedb

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gatepass/pkg/xlog"

	"github.com/nxadm/tail"
)

var logger = xlog.GetLogger()

type Filedb struct {
	File     *os.File
	FilePath string

	// ReplayHandler consumes batches of journal lines during Replay.
	ReplayHandler func([]string) error
}

func New(filePath string) (fdb *Filedb, err error) {
	fdb = &Filedb{
		FilePath: filePath,
	}
	err = fdb.Open()

	return
}

func (f *Filedb) Open() (err error) {
	err = os.MkdirAll(filepath.Dir(f.FilePath), 0755)
	if err != nil {
		return
	}

	f.File, err = os.OpenFile(f.FilePath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return
	}
	return
}

func (f *Filedb) Close() (err error) {
	if f.File == nil {
		return
	}

	err = f.File.Close()
	if err != nil {
		return
	}

	f.File = nil

	return
}

func (f *Filedb) WriteLine(s string) (err error) {
	_, err = f.File.WriteString(s)
	if err != nil {
		logger.Errorf("WriteLine failed with err:%s", err)
		return
	}

	return
}

// ReadLastLine reads the last non-empty line of the file
func (f *Filedb) ReadLastLine() (s string, err error) {
	stat, err := f.File.Stat()
	if err != nil {
		return
	}

	// The last line length is unknown, so read the last 1024 bytes and
	// split on \n.
	var b []byte
	var off int64
	size := stat.Size()
	if size < 1024 {
		b = make([]byte, size)
	} else {
		b = make([]byte, 1024)
		off = size - 1024
	}

	_, err = f.File.ReadAt(b, off)
	if err != nil {
		return
	}

	txt := strings.Trim(string(b), " \n")
	txts := strings.Split(txt, "\n")

	if len(txts) == 0 {
		return
	}

	s = txts[len(txts)-1]

	return
}

// ReadFirstLine reads the first non-empty line of the file
func (f *Filedb) ReadFirstLine() (s string, err error) {
	_, err = f.File.Seek(0, 0)
	if err != nil {
		return
	}

	reader := bufio.NewReader(f.File)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return "", err
		}

		line = strings.TrimSpace(line)
		if line != "" {
			s = line
			return s, nil
		}
	}

	return "", io.EOF
}

// Tailf continuously monitors new data writes and passes them to the
// caller via ch.
func (f *Filedb) Tailf(ch chan<- string) (err error) {
	ta, err := tail.TailFile(f.FilePath, tail.Config{
		Follow:        true,
		ReOpen:        true,
		CompleteLines: true,
	})
	if err != nil {
		return
	}

	for line := range ta.Lines {
		if line.Err != nil {
			// A broken line must stop the replay; skipping it would
			// reorder the journal.
			err = line.Err
			return
		}

		ch <- line.Text
	}

	return
}

// Replay drains ch in batches and hands each batch to ReplayHandler.
// The batch size adapts to however many lines are already buffered.
func (f *Filedb) Replay(ch <-chan string) (err error) {
	logger.Infof("Replay started with %s", f.FilePath)
	defer func() {
		if err != nil {
			logger.Errorf("Replay failed with %s, err:%s", f.FilePath, err)
		} else {
			logger.Infof("Replay finished with %s", f.FilePath)
		}
	}()

	ss := make([]string, 100)

	for {
		size := 1
		if len(ch) > 1 {
			if len(ch) < len(ss) {
				size = len(ch)
			} else {
				size = len(ss)
			}
		}

		var ok bool
		for i := 0; i < size; i++ {
			ss[i], ok = <-ch
			if !ok {
				return
			}
		}

		err = f.ReplayHandler(ss[:size])
		if err != nil {
			return
		}
	}
}
