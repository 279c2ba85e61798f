package logging

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLoggerLevels(t *testing.T) {
	logger, err := NewLogger("warn")
	if err != nil {
		t.Fatalf("expected logger, got error: %v", err)
	}
	if logger.Core().Enabled(zap.InfoLevel) {
		t.Fatal("expected info to be disabled at warn level")
	}
	if _, err := NewLogger("verbose"); err == nil {
		t.Fatal("expected invalid level to be rejected")
	}
}

func TestWithOperationAddsFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	WithOperation(zap.New(core), "usecase.compare", "req-1").Info("done")
	WithOperation(zap.New(core), "usecase.metrics", "").Info("done")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	first := entries[0].ContextMap()
	if first["operation"] != "usecase.compare" || first["request_id"] != "req-1" {
		t.Fatalf("unexpected fields: %v", first)
	}
	if _, ok := entries[1].ContextMap()["request_id"]; ok {
		t.Fatal("expected request_id to be omitted when empty")
	}
}

func TestOperationError(t *testing.T) {
	if NewOperationError("op", "req", nil) != nil {
		t.Fatal("expected nil error to stay nil")
	}

	err := NewOperationError("repository.save_log", "req-9", fs.ErrNotExist)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatal("expected wrapped error to match")
	}
	if got := err.Error(); got != "repository.save_log (request_id=req-9): file does not exist" {
		t.Fatalf("unexpected message: %s", got)
	}
	if got := NewOperationError("grpcclient.dial", "", fs.ErrClosed).Error(); got != "grpcclient.dial: file already closed" {
		t.Fatalf("unexpected message: %s", got)
	}
}

func TestErrorFieldsNamesFailedOperation(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)

	wrapped := fmt.Errorf("compare: %w", NewOperationError("grpcclient.compare_faces", "req-3", context.DeadlineExceeded))
	logger.Error("failed", ErrorFields(wrapped)...)
	logger.Error("failed", ErrorFields(errors.New("plain"))...)

	entries := logs.All()
	if got := entries[0].ContextMap()["failed_operation"]; got != "grpcclient.compare_faces" {
		t.Fatalf("unexpected failed_operation: %v", got)
	}
	if !errors.Is(wrapped, context.DeadlineExceeded) {
		t.Fatal("expected the cause to survive wrapping")
	}
	if _, ok := entries[1].ContextMap()["failed_operation"]; ok {
		t.Fatal("plain errors carry no operation")
	}
}
