package process

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ReadPIDFile parses a pid file. A missing file reads as pid 0 with no
// error; garbage content is an error because a half-written pid file
// should surface, not silently skip a stop.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return 0, nil
	}
	pid, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("malformed pid file %s: %q", path, text)
	}
	return pid, nil
}

// RemovePIDFile deletes path, tolerating absence.
func RemovePIDFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
