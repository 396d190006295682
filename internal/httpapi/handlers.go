package httpapi

import (
	"encoding/json"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/John-Robertt/vgrab/internal/app"
	"github.com/John-Robertt/vgrab/internal/domain"
)

// videoRequest 同时接受 JSON 与表单提交。
type videoRequest struct {
	URL             string `json:"url" form:"url"`
	Quality         string `json:"quality" form:"quality"`
	RemoveWatermark flag   `json:"remove_watermark" form:"remove_watermark"`
}

// flag 兼容 JSON 布尔值与表单字符串（"true"/"1"/"on"，其余一律为 false）。
type flag bool

func (f *flag) UnmarshalParam(s string) error {
	*f = flag(truthy(s))
	return nil
}

func (f *flag) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case bool:
		*f = flag(x)
	case string:
		*f = flag(truthy(x))
	case float64:
		*f = x != 0
	default:
		*f = false
	}
	return nil
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "on", "yes":
		return true
	default:
		return false
	}
}

func (s *Server) bind(c echo.Context) (videoRequest, error) {
	var req videoRequest
	if err := c.Bind(&req); err != nil {
		return videoRequest{}, badRequest(err)
	}
	req.URL = strings.TrimSpace(req.URL)
	if err := requireURL(req.URL); err != nil {
		return videoRequest{}, err
	}
	return req, nil
}

func (s *Server) index(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "success",
		"service": "vgrab",
		"endpoints": []string{
			"POST /api/video-info",
			"POST /api/process",
			"GET /download/:filename",
		},
	})
}

func (s *Server) healthz(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func (s *Server) videoInfo(c echo.Context) error {
	req, err := s.bind(c)
	if err != nil {
		return err
	}
	desc, err := s.Service.VideoInfo(c.Request().Context(), req.URL)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, success(desc))
}

func (s *Server) process(c echo.Context) error {
	req, err := s.bind(c)
	if err != nil {
		return err
	}
	q, err := domain.ParseQuality(req.Quality)
	if err != nil {
		return err
	}
	art, err := s.Service.Process(c.Request().Context(), app.ProcessRequest{
		URL:             req.URL,
		Quality:         q,
		RemoveWatermark: bool(req.RemoveWatermark),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, envelope{
		Status:      "success",
		Message:     "下载完成",
		DownloadURL: art.DownloadPath(),
	})
}

// download 以附件形式返回已提交的产物；完整下载（无 Range）时累加下载次数。
func (s *Server) download(c echo.Context) error {
	name := c.Param("filename")
	h, err := s.Store.Open(name)
	if err != nil {
		return err
	}
	defer h.Close()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, contentTypeFor(name))
	w.Header().Set(echo.HeaderContentDisposition, mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	http.ServeContent(w, c.Request(), name, h.Artifact.CreatedAt, h)

	if s.Catalog != nil && c.Request().Method == http.MethodGet && c.Request().Header.Get("Range") == "" && w.Status < 300 {
		if err := s.Catalog.Touch(c.Request().Context(), name, s.clock()); err != nil {
			s.logger().Warn("更新下载次数失败", "component", "httpapi", "file", name, "error", err)
		}
	}
	return nil
}

func contentTypeFor(name string) string {
	if strings.EqualFold(path.Ext(name), ".mp3") {
		return "audio/mpeg"
	}
	return "video/mp4"
}
