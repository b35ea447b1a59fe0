package utils

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// AskForConfirmationDefaultYes reads the answer from in; an empty line means yes.
func AskForConfirmationDefaultYes(in io.Reader, s string) bool {
	reader := bufio.NewReader(in)

	fmt.Printf("%s [Y/n]: ", s)

	response, err := reader.ReadString('\n')
	if err != nil && response == "" {
		return false
	}

	response = strings.ToLower(strings.TrimSpace(response))
	return response == "y" || response == "yes" || response == ""
}

// EnsureDir creates dir with mode perm when it does not exist yet.
func EnsureDir(dir string, perm os.FileMode) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, perm); err != nil {
			return errors.Wrapf(err, "cannot create directory %s", dir)
		}
	}
	return nil
}

func DumpOption(opt interface{}, outputPath string, overwrite bool) {
	if err := WriteOption(opt, outputPath, overwrite, os.Stdin); err != nil {
		log.Errorln(err)
		log.Exit(1)
	}
}

// WriteOption marshals opt to yaml at outputPath. An existing file is only replaced when
// overwrite is set or the user confirms on in.
func WriteOption(opt interface{}, outputPath string, overwrite bool, in io.Reader) error {
	buffer, err := yaml.Marshal(opt)
	if err != nil {
		return errors.Wrap(err, "marshal configuration")
	}

	parentPath := path.Dir(outputPath)
	if err := EnsureDir(parentPath, 0700); err != nil {
		return err
	}

	if !overwrite {
		if _, err := os.Stat(outputPath); !os.IsNotExist(err) {
			ret := AskForConfirmationDefaultYes(in, "configuration "+outputPath+" already exist, overwrite?")
			if !ret {
				log.Infoln("abort")
				return nil
			}
		}
	}

	log.Infoln("writing default configuration to", outputPath)
	f, err := os.OpenFile(outputPath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0600)
	if err != nil {
		return errors.Wrapf(err, "cannot open %s, check permissions", outputPath)
	}
	defer func() { _ = f.Close() }()

	w := bufio.NewWriter(f)
	if _, err = w.Write(buffer); err != nil {
		return errors.Wrap(err, "cannot write configuration")
	}
	return w.Flush()
}

// TimestampedName returns prefix_YYYYmmdd_HHMMSS.ext.
func TimestampedName(prefix string, t time.Time, ext string) string {
	return fmt.Sprintf("%s_%s.%s", prefix, t.Format("20060102_150405"), ext)
}
