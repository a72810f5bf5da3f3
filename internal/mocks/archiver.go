// Package mocks provides hand-written test doubles for the ports
// interfaces.
package mocks

import (
	"context"
	"os"
	"path/filepath"

	"repack/internal/ports"
)

// MockArchiver implements ports.Archiver for testing. Behaviour is
// scripted through the *Func fields; nil funcs fall back to a default that
// succeeds and fakes plausible on-disk output, so happy-path pipeline
// tests need no setup.
type MockArchiver struct {
	ExtractCalls []ExtractCall
	CreateCalls  []CreateCall

	ExtractFunc       func(archivePath, destDir, password string) error
	CreateRARFunc     func(sourceDir, outputBase string) error
	CreateRARFileFunc func(filePath, outputBase string) error
	CreateZIPFunc     func(sourceDir, outputBase string) error
}

// ExtractCall records parameters of an Extract call.
type ExtractCall struct {
	ArchivePath string
	DestDir     string
	Password    string
}

// CreateCall records parameters of a create call.
type CreateCall struct {
	Op         string // "rar", "rarfile" or "zip"
	Source     string
	OutputBase string
}

// NewMockArchiver creates a new mock archiver.
func NewMockArchiver() *MockArchiver {
	return &MockArchiver{}
}

// Extract records the call. The default behaviour writes one payload file
// into destDir so downstream steps have something to work on.
func (m *MockArchiver) Extract(_ context.Context, archivePath, destDir, password string) error {
	m.ExtractCalls = append(m.ExtractCalls, ExtractCall{archivePath, destDir, password})
	if m.ExtractFunc != nil {
		return m.ExtractFunc(archivePath, destDir, password)
	}
	return os.WriteFile(filepath.Join(destDir, "payload.bin"), []byte("extracted payload data"), 0o644)
}

// CreateRAR records the call. The default writes a single .rar volume.
func (m *MockArchiver) CreateRAR(_ context.Context, sourceDir, outputBase string) error {
	m.CreateCalls = append(m.CreateCalls, CreateCall{"rar", sourceDir, outputBase})
	if m.CreateRARFunc != nil {
		return m.CreateRARFunc(sourceDir, outputBase)
	}
	return WriteVolume(outputBase + ".rar")
}

// CreateRARFile records the call. The default writes a single .rar volume.
func (m *MockArchiver) CreateRARFile(_ context.Context, filePath, outputBase string) error {
	m.CreateCalls = append(m.CreateCalls, CreateCall{"rarfile", filePath, outputBase})
	if m.CreateRARFileFunc != nil {
		return m.CreateRARFileFunc(filePath, outputBase)
	}
	return WriteVolume(outputBase + ".rar")
}

// CreateZIP records the call. The default writes a single .zip volume.
func (m *MockArchiver) CreateZIP(_ context.Context, sourceDir, outputBase string) error {
	m.CreateCalls = append(m.CreateCalls, CreateCall{"zip", sourceDir, outputBase})
	if m.CreateZIPFunc != nil {
		return m.CreateZIPFunc(sourceDir, outputBase)
	}
	return WriteVolume(outputBase + ".zip")
}

// WriteVolume fakes an archive volume on disk.
func WriteVolume(path string) error {
	return os.WriteFile(path, []byte("fake archive volume"), 0o644)
}

// Compile-time check that MockArchiver implements ports.Archiver.
var _ ports.Archiver = (*MockArchiver)(nil)
