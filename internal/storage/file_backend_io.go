package storage

import (
	"encoding/json"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// 本地文件加载/保存辅助方法。每个集合一个 JSON 文件，写入走临时文件+rename。

const (
	statesFile = "credential-states.json"
	healthFile = "health-entries.json"
	usageFile  = "usage.json"
	docsFile   = "config-docs.json"
)

func (f *FileBackend) loadAll() error {
	loadCollection(filepath.Join(f.baseDir, statesFile), &f.states)
	loadCollection(filepath.Join(f.baseDir, healthFile), &f.health)
	loadCollection(filepath.Join(f.baseDir, usageFile), &f.usage)
	loadCollection(filepath.Join(f.baseDir, docsFile), &f.docs)
	return nil
}

// loadCollection reads one collection file into dst. Missing files are
// normal; malformed files are logged and skipped so a corrupt state file
// never prevents startup.
func loadCollection[T any](path string, dst *T) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.WithError(err).Warnf("state file %s unreadable, starting empty", filepath.Base(path))
		}
		return
	}
	if err := json.Unmarshal(data, dst); err != nil {
		log.WithError(err).Warnf("state file %s malformed, starting empty", filepath.Base(path))
	}
}

func (f *FileBackend) saveAll() error {
	if err := f.saveStates(); err != nil {
		return err
	}
	if err := f.saveHealth(); err != nil {
		return err
	}
	if err := f.saveUsage(); err != nil {
		return err
	}
	return f.saveDocs()
}

func (f *FileBackend) saveStates() error {
	return writeCollection(filepath.Join(f.baseDir, statesFile), f.states)
}

func (f *FileBackend) saveHealth() error {
	return writeCollection(filepath.Join(f.baseDir, healthFile), f.health)
}

func (f *FileBackend) saveUsage() error {
	return writeCollection(filepath.Join(f.baseDir, usageFile), f.usage)
}

func (f *FileBackend) saveDocs() error {
	return writeCollection(filepath.Join(f.baseDir, docsFile), f.docs)
}

func writeCollection(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data, 0600)
}

// writeFileAtomic writes via a temp file in the same directory and
// renames into place, so readers never observe a partial file.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
