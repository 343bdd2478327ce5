// Package status inspects a generated testbench directory: which files the
// filelist promises, which are actually present, and whether the build
// scaffold is in place.
package status

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileInfo describes one file the filelist references.
type FileInfo struct {
	Name    string
	Present bool
	Bytes   int64
}

// TestbenchStatus holds the inspection result for one output directory.
type TestbenchStatus struct {
	Dir         string
	HasFilelist bool
	HasMakefile bool
	Files       []FileInfo
}

// Missing returns the filelist entries that do not exist on disk.
func (s TestbenchStatus) Missing() []string {
	var out []string
	for _, f := range s.Files {
		if !f.Present {
			out = append(out, f.Name)
		}
	}
	return out
}

// Complete reports whether the scaffold and every listed file are present.
func (s TestbenchStatus) Complete() bool {
	return s.HasFilelist && s.HasMakefile && len(s.Missing()) == 0
}

// Inspect reads dir's filelist.f and checks every referenced file.
func Inspect(dir string) (TestbenchStatus, error) {
	st := TestbenchStatus{Dir: dir}

	if _, err := os.Stat(filepath.Join(dir, "Makefile")); err == nil {
		st.HasMakefile = true
	}

	f, err := os.Open(filepath.Join(dir, "filelist.f"))
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return st, fmt.Errorf("status: open filelist: %w", err)
	}
	defer f.Close()
	st.HasFilelist = true

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "//") || strings.HasPrefix(line, "#") {
			continue
		}
		info := FileInfo{Name: line}
		if fi, err := os.Stat(filepath.Join(dir, line)); err == nil {
			info.Present = true
			info.Bytes = fi.Size()
		}
		st.Files = append(st.Files, info)
	}
	if err := sc.Err(); err != nil {
		return st, fmt.Errorf("status: read filelist: %w", err)
	}
	return st, nil
}

// Format renders the status as a human-readable table.
func Format(st TestbenchStatus) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Testbench: %s\n", st.Dir)
	if !st.HasFilelist {
		sb.WriteString("  no filelist.f found; nothing generated here\n")
		return sb.String()
	}
	for _, f := range st.Files {
		marker := "missing"
		if f.Present {
			marker = fmt.Sprintf("%d bytes", f.Bytes)
		}
		fmt.Fprintf(&sb, "  %-32s [%s]\n", f.Name, marker)
	}
	if st.HasMakefile {
		sb.WriteString("  Makefile                         [present]\n")
	} else {
		sb.WriteString("  Makefile                         [missing]\n")
	}
	if st.Complete() {
		sb.WriteString("All files present.\n")
	}
	return sb.String()
}
