//go:build !unix

package lock

import (
	"context"

	logx "schedkit/pkg/logx"
)

type FileLock struct{}

func NewFileLock(string, string, logx.Logger) (*FileLock, error) { return nil, ErrUnsupported }

func (*FileLock) Path() string                          { return "" }
func (*FileLock) TryLock(context.Context) (bool, error) { return false, ErrUnsupported }
func (*FileLock) Unlock(context.Context) error          { return nil }
func (*FileLock) Locked() bool                          { return false }
