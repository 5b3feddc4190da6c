package catalog

import (
	"os"
)

// ReadFile loads a CSV or FITS table from disk.
func ReadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(path, f)
}
