package file

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// FileOperations is the filesystem surface used for configuration, device
// identity, credentials and persisted agent state.
type FileOperations interface {
	Exists(path string) (bool, error)
	ReadFileRaw(path string) ([]byte, error)
	ReadJsonFile(path string, v any) error
	ReadYamlFile(path string, v any) error
	WriteFileRaw(path string, data []byte) error
	WriteJsonFile(path string, v any) error
	RemoveFile(path string) error
}

// FileService implements FileOperations on the local filesystem.
type FileService struct{}

// NewFileService creates a new instance of FileService.
func NewFileService() *FileService {
	return &FileService{}
}

// Exists reports whether path exists. Permission errors are returned as is.
func (s *FileService) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

func (s *FileService) ReadFileRaw(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// ReadJsonFile decodes the JSON document at path into v.
func (s *FileService) ReadJsonFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

// ReadYamlFile decodes the YAML document at path into v. An empty file leaves v untouched.
func (s *FileService) ReadYamlFile(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

// WriteFileRaw replaces path with data, creating parent directories.
// The content goes to a sibling temp file first and is renamed into place.
func (s *FileService) WriteFileRaw(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// WriteJsonFile writes v to path as indented JSON.
func (s *FileService) WriteJsonFile(path string, v any) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return s.WriteFileRaw(path, append(encoded, '\n'))
}

// RemoveFile deletes path. A missing file is not an error.
func (s *FileService) RemoveFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
