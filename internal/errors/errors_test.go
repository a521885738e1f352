package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"
)

// ErrorsTestSuite 错误包测试套件
type ErrorsTestSuite struct {
	suite.Suite
}

// 测试创建新错误
func (suite *ErrorsTestSuite) TestNew() {
	err := New(ErrInvalidParam)
	suite.NotNil(err)
	suite.Equal(ErrInvalidParam, err.Code)
	suite.Equal("无效的参数", err.Message)
	suite.Empty(err.Details)

	err = New(ErrSessionNotFound, "会话不存在")
	suite.Equal(ErrSessionNotFound, err.Code)
	suite.Equal("会话不存在", err.Details)

	// 多个详情
	err = New(ErrConnectFailed, "连接失败", "地址: localhost:3000")
	suite.Equal("连接失败; 地址: localhost:3000", err.Details)
}

// 测试格式化错误创建
func (suite *ErrorsTestSuite) TestNewf() {
	err := Newf(ErrSyncRejected, "房间 %s 同步被拒", "ABC123")
	suite.Equal(ErrSyncRejected, err.Code)
	suite.Equal("房间 ABC123 同步被拒", err.Details)
}

// 测试错误包装
func (suite *ErrorsTestSuite) TestWrap() {
	originalErr := errors.New("dial tcp: connection refused")
	wrappedErr := Wrap(originalErr, ErrConnectFailed)
	suite.Equal(ErrConnectFailed, wrappedErr.Code)
	suite.Equal("dial tcp: connection refused", wrappedErr.Details)
	suite.Equal(originalErr, wrappedErr.Cause)

	// 包装nil错误
	suite.Nil(Wrap(nil, ErrUnknown))

	// 包装已有的AppError保留原始错误码
	appErr := New(ErrSessionExpired, "会话过期")
	rewrapped := Wrap(appErr, ErrUnknown, "额外信息")
	suite.Equal(ErrSessionExpired, rewrapped.Code)
}

// 测试错误码判断
func (suite *ErrorsTestSuite) TestIsAndGetCode() {
	err := New(ErrAckTimeout, "ping")
	suite.True(Is(err, ErrAckTimeout))
	suite.False(Is(err, ErrConnectFailed))
	suite.False(Is(nil, ErrAckTimeout))

	suite.Equal(ErrAckTimeout, GetCode(err))
	suite.Equal(ErrUnknown, GetCode(errors.New("普通错误")))
	suite.Equal(ErrorCode(0), GetCode(nil))
}

// 测试Unwrap
func (suite *ErrorsTestSuite) TestUnwrap() {
	cause := errors.New("底层错误")
	err := New(ErrSessionStore).WithCause(cause)
	suite.Equal(cause, errors.Unwrap(err))
	suite.True(errors.Is(err, cause))
}

// 测试可重试分类
func (suite *ErrorsTestSuite) TestIsRetryable() {
	suite.True(IsRetryable(New(ErrConnectFailed)))
	suite.True(IsRetryable(New(ErrAckTimeout)))
	suite.True(IsRetryable(New(ErrRejoinTimeout)))
	suite.False(IsRetryable(New(ErrSessionExpired)))
	suite.False(IsRetryable(New(ErrInvalidParam)))
	suite.False(IsRetryable(nil))
}

// 测试会话终结分类
func (suite *ErrorsTestSuite) TestIsTerminal() {
	suite.True(IsTerminal(New(ErrSessionExpired)))
	suite.True(IsTerminal(New(ErrRejoinFailed)))
	suite.True(IsTerminal(New(ErrOutOfSync)))
	suite.False(IsTerminal(New(ErrAckTimeout)))
	suite.False(IsTerminal(nil))
}

// 测试错误消息格式
func (suite *ErrorsTestSuite) TestErrorString() {
	err := New(ErrRejoinFailed, "Room not found")
	suite.Contains(err.Error(), "Room not found")
}

func TestErrorsTestSuite(t *testing.T) {
	suite.Run(t, new(ErrorsTestSuite))
}
