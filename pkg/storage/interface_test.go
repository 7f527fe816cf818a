package storage

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	err := fmt.Errorf("注册失败: %w", NewAlreadyRegisteredError("menu"))
	assert.Equal(t, ErrAlreadyRegistered, CodeOf(err))
	assert.True(t, IsCode(err, ErrAlreadyRegistered))
	assert.False(t, IsCode(err, ErrStoreUnavailable))

	assert.Equal(t, 0, CodeOf(errors.New("plain")))
	assert.False(t, IsCode(nil, ErrAlreadyRegistered))
}

func TestStorageErrorMessage(t *testing.T) {
	assert.Equal(t, "menu service already exists", NewAlreadyRegisteredError("menu").Error())

	cause := errors.New("connection refused")
	err := NewStoreUnavailableError("打开数据库失败", cause)
	assert.Equal(t, "打开数据库失败: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)
}
