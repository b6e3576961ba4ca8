package policy

import (
	"errors"
	"fmt"
	"os"
	"sort"

	atomicyaml "github.com/msageha/goalrun/internal/yaml"
)

// GrantsFile is the on-disk grant list an operator edits to approve
// permissions while a run is in progress.
type GrantsFile struct {
	SchemaVersion int      `yaml:"schema_version"`
	FileType      string   `yaml:"file_type"`
	Grants        []string `yaml:"grants"`
}

// LoadGrantsFile returns the grants listed in path. A missing file yields
// no grants and no error.
func LoadGrantsFile(path string) ([]string, error) {
	var f GrantsFile
	if err := atomicyaml.ReadInto(path, &f); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	if f.FileType != "" && f.FileType != atomicyaml.FileTypeGrants {
		return nil, fmt.Errorf("%s: file_type mismatch: got %q, expected %q", path, f.FileType, atomicyaml.FileTypeGrants)
	}
	return f.Grants, nil
}

// AppendGrant adds perm to the grants file, creating it when absent.
// It reports whether the file changed.
func AppendGrant(path, perm string) (bool, error) {
	if perm == "" {
		return false, fmt.Errorf("permission must not be empty")
	}
	grants, err := LoadGrantsFile(path)
	if err != nil {
		return false, err
	}
	for _, g := range grants {
		if g == perm {
			return false, nil
		}
	}
	grants = append(grants, perm)
	sort.Strings(grants)

	f := GrantsFile{
		SchemaVersion: atomicyaml.CurrentSchemaVersion,
		FileType:      atomicyaml.FileTypeGrants,
		Grants:        grants,
	}
	if err := atomicyaml.AtomicWrite(path, f); err != nil {
		return false, fmt.Errorf("write grants file: %w", err)
	}
	return true, nil
}
