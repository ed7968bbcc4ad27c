package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(t *testing.T, handler gin.HandlerFunc) Response {
	t.Helper()

	router := gin.New()
	router.GET("/jobs/:id", handler)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/jobs/job-1", nil))
	// 业务错误也返回 200，由 code 区分
	assert.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestSuccess_Job(t *testing.T) {
	resp := serve(t, func(c *gin.Context) {
		Success(c, gin.H{"id": "job-1", "status": "processing", "progress_percent": 40})
	})

	assert.Equal(t, CodeSuccess, resp.Code)
	assert.Equal(t, "success", resp.Message)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "processing", data["status"])
	assert.Equal(t, float64(40), data["progress_percent"])
}

func TestSuccessWithMessage_NilData(t *testing.T) {
	// 没有可领取任务时 data 为 null
	resp := serve(t, func(c *gin.Context) {
		SuccessWithMessage(c, "暂无待处理任务", nil)
	})

	assert.Equal(t, CodeSuccess, resp.Code)
	assert.Equal(t, "暂无待处理任务", resp.Message)
	assert.Nil(t, resp.Data)
}

func TestSuccessList(t *testing.T) {
	tests := []struct {
		name  string
		items []string
	}{
		{name: "jobs", items: []string{"job-1", "job-2", "job-3"}},
		{name: "empty", items: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := serve(t, func(c *gin.Context) {
				SuccessList(c, len(tt.items), tt.items)
			})

			data, ok := resp.Data.(map[string]interface{})
			require.True(t, ok)
			assert.Equal(t, float64(len(tt.items)), data["total"])

			items, ok := data["items"].([]interface{})
			require.True(t, ok)
			assert.Len(t, items, len(tt.items))
		})
	}
}

func TestErrorHelpers(t *testing.T) {
	tests := []struct {
		name        string
		respond     func(c *gin.Context, message string)
		message     string
		wantCode    int
		wantMessage string
	}{
		{name: "param custom", respond: ParamError, message: "请填写轮播图描述", wantCode: CodeParamError, wantMessage: "请填写轮播图描述"},
		{name: "param default", respond: ParamError, wantCode: CodeParamError, wantMessage: "参数错误"},
		{name: "auth default", respond: AuthError, wantCode: CodeAuthFailed, wantMessage: "认证失败"},
		{name: "permission custom", respond: PermissionError, message: "无权访问此任务", wantCode: CodePermissionDenied, wantMessage: "无权访问此任务"},
		{name: "permission default", respond: PermissionError, wantCode: CodePermissionDenied, wantMessage: "权限不足"},
		{name: "not found custom", respond: NotFoundError, message: "任务不存在", wantCode: CodeResourceNotFound, wantMessage: "任务不存在"},
		{name: "not found default", respond: NotFoundError, wantCode: CodeResourceNotFound, wantMessage: "资源不存在"},
		{name: "conflict custom", respond: ConflictError, message: "任务已被其他进程领取", wantCode: CodeConflict, wantMessage: "任务已被其他进程领取"},
		{name: "conflict default", respond: ConflictError, wantCode: CodeConflict, wantMessage: "状态冲突，请刷新后重试"},
		{name: "server default", respond: ServerError, wantCode: CodeServerError, wantMessage: "服务器内部错误"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := serve(t, func(c *gin.Context) {
				tt.respond(c, tt.message)
			})

			assert.Equal(t, tt.wantCode, resp.Code)
			assert.Equal(t, tt.wantMessage, resp.Message)
			assert.Nil(t, resp.Data)
		})
	}
}

func TestInvalidTransitionError(t *testing.T) {
	resp := serve(t, func(c *gin.Context) {
		InvalidTransitionError(c, "", gin.H{"from": "completed", "to": "processing"})
	})

	assert.Equal(t, CodeInvalidTransition, resp.Code)
	assert.Equal(t, "不允许的状态变更", resp.Message)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "completed", data["from"])
	assert.Equal(t, "processing", data["to"])
}

func TestError_UnknownCode(t *testing.T) {
	resp := serve(t, func(c *gin.Context) {
		Error(c, 9999, "")
	})

	assert.Equal(t, 9999, resp.Code)
	assert.Empty(t, resp.Message)
}
