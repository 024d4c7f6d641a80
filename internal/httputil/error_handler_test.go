package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"chat-relay/internal/platform/middleware"

	"github.com/gin-gonic/gin"
)

func TestErrorResponses(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name   string
		handle gin.HandlerFunc
		status int
		code   string
	}{
		{"內部錯誤", func(c *gin.Context) { InternalServerError(c, errors.New("mongo: connection refused")) }, http.StatusInternalServerError, CodeInternal},
		{"格式錯誤", func(c *gin.Context) { BadRequest(c, "bad json") }, http.StatusBadRequest, CodeInvalidRequest},
		{"驗證失敗", func(c *gin.Context) { ValidationError(c, "content", "empty") }, http.StatusBadRequest, CodeValidation},
		{"未認證", func(c *gin.Context) { Unauthorized(c, "") }, http.StatusUnauthorized, CodeUnauthorized},
		{"無權限", func(c *gin.Context) { Forbidden(c, "") }, http.StatusForbidden, CodeForbidden},
		{"不存在", func(c *gin.Context) { NotFoundError(c, RecordNotFound) }, http.StatusNotFound, CodeNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.Use(middleware.RequestIDMiddleware())
			r.GET("/x", tc.handle)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

			if w.Code != tc.status {
				t.Fatalf("期望 %d，實際為 %d", tc.status, w.Code)
			}
			var resp ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if resp.Code != tc.code || resp.Success || resp.RequestID == "" || resp.Error == "" {
				t.Errorf("錯誤回應內容不正確: %+v", resp)
			}
			if strings.Contains(resp.Error, "mongo") {
				t.Errorf("不應洩露內部錯誤: %s", resp.Error)
			}
		})
	}
}

func TestListResponseCountsEmpty(t *testing.T) {
	b, err := json.Marshal(NewListResponse[string](OnlineUsersRetrieved, nil))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"data":[]`) || !strings.Contains(string(b), `"count":0`) {
		t.Errorf("空列表應輸出 [] 與 0，實際為 %s", b)
	}
}
