package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/TIANLI0/CloneKit/config"
	"github.com/TIANLI0/CloneKit/model"
	"github.com/TIANLI0/CloneKit/service"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	router *gin.Engine
	redis  *service.RedisService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	cfg := config.Default()
	cfg.Redis.Addr = mr.Addr()
	cfg.Classifier.Seed = 7

	redisService := service.NewRedisService(&cfg.Redis)
	t.Cleanup(func() { redisService.Close() })
	cloneService, err := service.NewCloneService(cfg)
	require.NoError(t, err)

	r := gin.New()
	Register(r.Group("/api/v1"), NewCloneHandler(cfg, redisService, cloneService))
	return &testEnv{router: r, redis: redisService}
}

type upload struct {
	field       string
	contentType string
	data        []byte
}

func (e *testEnv) post(t *testing.T, path string, uploads []upload, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, u := range uploads {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename="%s.png"`, u.field, u.field))
		h.Set("Content-Type", u.contentType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(u.data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) get(path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func pngUpload(t *testing.T, field string, img image.Image) upload {
	t.Helper()
	data, err := service.EncodePNG(img)
	require.NoError(t, err)
	return upload{field: field, contentType: "image/png", data: data}
}

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

// photoAndScribble 左红右蓝的图片，以及对应的绿色前景/红色背景涂抹
func photoAndScribble() (*image.NRGBA, *image.NRGBA) {
	const w, h = 24, 16
	photo := image.NewNRGBA(image.Rect(0, 0, w, h))
	scribble := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			jitter := uint8((x*7 + y*13) % 20)
			if x < w/2 {
				photo.SetNRGBA(x, y, color.NRGBA{R: 200 + jitter, G: 40 + jitter, B: 30 + jitter, A: 255})
			} else {
				photo.SetNRGBA(x, y, color.NRGBA{R: 30 + jitter, G: 40 + jitter, B: 200 + jitter, A: 255})
			}
			if y >= 2 && y < 14 {
				switch {
				case x >= 3 && x < 6:
					scribble.SetNRGBA(x, y, color.NRGBA{G: 255, A: 255})
				case x >= 18 && x < 21:
					scribble.SetNRGBA(x, y, color.NRGBA{R: 255, A: 255})
				}
			}
		}
	}
	return photo, scribble
}

func TestSegmentAndCache(t *testing.T) {
	env := newTestEnv(t)
	photo, scribble := photoAndScribble()
	uploads := []upload{pngUpload(t, "image", photo), pngUpload(t, "scribble", scribble)}

	w := env.post(t, "/api/v1/segment", uploads, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp model.SelectionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.NotNil(t, resp.Data)
	assert.Equal(t, 24, resp.Data.Width)
	assert.NotEmpty(t, resp.Data.Cutout)
	assert.NotEmpty(t, resp.Data.Patch)
	assert.Len(t, resp.Data.ID, 32)

	// 同样的输入命中缓存
	w = env.post(t, "/api/v1/segment", uploads, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var cached model.SelectionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cached))
	assert.Contains(t, cached.Message, "缓存")
	assert.Equal(t, resp.Data.ID, cached.Data.ID)

	w = env.get("/api/v1/selection/" + resp.Data.ID)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.post(t, "/api/v1/segment", uploads, map[string]string{"largest_only": "true"})
	require.Equal(t, http.StatusOK, w.Code)
	var largest model.SelectionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &largest))
	assert.Equal(t, resp.Data.ID+"-largest", largest.Data.ID)
}

func TestSegmentRejectsBadUploads(t *testing.T) {
	env := newTestEnv(t)
	photo, scribble := photoAndScribble()

	tests := []struct {
		name    string
		uploads []upload
		want    int
	}{
		{
			name:    "missing scribble",
			uploads: []upload{pngUpload(t, "image", photo)},
			want:    http.StatusBadRequest,
		},
		{
			name: "wrong content type",
			uploads: []upload{
				{field: "image", contentType: "text/plain", data: []byte("hello")},
				pngUpload(t, "scribble", scribble),
			},
			want: http.StatusBadRequest,
		},
		{
			name: "undecodable",
			uploads: []upload{
				{field: "image", contentType: "image/png", data: []byte("not a png")},
				pngUpload(t, "scribble", scribble),
			},
			want: http.StatusBadRequest,
		},
		{
			name:    "size mismatch",
			uploads: []upload{pngUpload(t, "image", photo), pngUpload(t, "scribble", solid(8, 8, color.NRGBA{}))},
			want:    http.StatusUnprocessableEntity,
		},
		{
			name:    "no background strokes",
			uploads: []upload{pngUpload(t, "image", photo), pngUpload(t, "scribble", solid(24, 16, color.NRGBA{G: 255, A: 255}))},
			want:    http.StatusUnprocessableEntity,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.post(t, "/api/v1/segment", tt.uploads, nil)
			assert.Equal(t, tt.want, w.Code, w.Body.String())

			var resp model.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestGetSelectionNotFound(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, http.StatusNotFound, env.get("/api/v1/selection/missing").Code)
}

func TestCompositeWithUpload(t *testing.T) {
	env := newTestEnv(t)
	uploads := []upload{
		pngUpload(t, "background", solid(10, 10, color.NRGBA{R: 255, A: 255})),
		pngUpload(t, "cutout", solid(4, 4, color.NRGBA{B: 255, A: 255})),
	}

	w := env.post(t, "/api/v1/composite", uploads, map[string]string{"x": "3", "y": "3"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp model.CompositeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Data)
	assert.Equal(t, model.BBox{X: 3, Y: 3, Width: 4, Height: 4}, resp.Data.Placement)
	assert.Equal(t, 16, resp.Data.MaskPixels)
	assert.Empty(t, resp.Data.SelectionID)

	out, err := service.DecodePNGBase64(resp.Data.Image)
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{R: 255, A: 255}, out.NRGBAAt(0, 0))
	assert.GreaterOrEqual(t, out.NRGBAAt(4, 4).B, uint8(250))
}

func TestCompositeWithSelectionID(t *testing.T) {
	env := newTestEnv(t)
	cutout, err := service.EncodePNGBase64(solid(3, 3, color.NRGBA{G: 255, A: 255}))
	require.NoError(t, err)
	require.NoError(t, env.redis.SetSelection(context.Background(), "sel", &model.SelectionResult{
		ID:        "sel",
		Cutout:    cutout,
		Timestamp: time.Now().Unix(),
	}))

	background := pngUpload(t, "background", solid(8, 8, color.NRGBA{R: 255, A: 255}))
	w := env.post(t, "/api/v1/composite", []upload{background}, map[string]string{"selection_id": "sel", "x": "2", "y": "2"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp model.CompositeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "sel", resp.Data.SelectionID)
	assert.Equal(t, 9, resp.Data.MaskPixels)

	w = env.post(t, "/api/v1/composite", []upload{background}, map[string]string{"selection_id": "nope"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCompositeBadParameters(t *testing.T) {
	env := newTestEnv(t)
	background := pngUpload(t, "background", solid(8, 8, color.NRGBA{R: 255, A: 255}))
	cutout := pngUpload(t, "cutout", solid(2, 2, color.NRGBA{B: 255, A: 255}))

	tests := []struct {
		name    string
		uploads []upload
		fields  map[string]string
		want    int
	}{
		{"negative scale", []upload{background, cutout}, map[string]string{"scale": "-1"}, http.StatusBadRequest},
		{"bad x", []upload{background, cutout}, map[string]string{"x": "left"}, http.StatusBadRequest},
		{"no cutout", []upload{background}, nil, http.StatusBadRequest},
		{"full coverage", []upload{background, pngUpload(t, "cutout", solid(8, 8, color.NRGBA{B: 255, A: 255}))}, nil, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.post(t, "/api/v1/composite", tt.uploads, tt.fields)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&uploadError{field: "image", msg: "missing file"}, http.StatusBadRequest},
		{fmt.Errorf("train classifier: %w", &service.InsufficientDataError{}), http.StatusUnprocessableEntity},
		{&service.DegenerateMaskError{}, http.StatusUnprocessableEntity},
		{fmt.Errorf("x: %w", service.ErrDimensionMismatch), http.StatusUnprocessableEntity},
		{service.ErrQueueFull, http.StatusServiceUnavailable},
		{&service.TrainingDivergedError{Restarts: 5}, http.StatusInternalServerError},
		{&service.SolverError{Channel: 1, Reason: "non-finite solution"}, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestSegmentThenCompositeBySelectionID(t *testing.T) {
	env := newTestEnv(t)
	photo, scribble := photoAndScribble()

	w := env.post(t, "/api/v1/segment", []upload{pngUpload(t, "image", photo), pngUpload(t, "scribble", scribble)}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var seg model.SelectionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &seg))

	// 贴回分割时的位置，结果应与原图一致
	box := seg.Data.BoundingBox
	w = env.post(t, "/api/v1/composite", []upload{pngUpload(t, "background", photo)}, map[string]string{
		"selection_id": seg.Data.ID,
		"x":            fmt.Sprint(box.X),
		"y":            fmt.Sprint(box.Y),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp model.CompositeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, box, resp.Data.Placement)

	out, err := service.DecodePNGBase64(resp.Data.Image)
	require.NoError(t, err)
	for i := range photo.Pix {
		assert.InDelta(t, int(photo.Pix[i]), int(out.Pix[i]), 1, "byte %d", i)
	}
}

func TestSelectionPatch(t *testing.T) {
	crop := solid(3, 3, color.NRGBA{R: 90, G: 90, B: 90, A: 255})
	cutout := solid(3, 3, color.NRGBA{})
	cutout.SetNRGBA(1, 1, color.NRGBA{R: 90, G: 90, B: 90, A: 255})
	encodedCrop, err := service.EncodePNGBase64(crop)
	require.NoError(t, err)
	encodedCutout, err := service.EncodePNGBase64(cutout)
	require.NoError(t, err)

	patch, err := selectionPatch(&model.SelectionResult{Cutout: encodedCutout, Patch: encodedCrop})
	require.NoError(t, err)
	assert.Equal(t, crop.Pix, patch.Image.Pix)
	assert.Equal(t, 1, patch.Mask.Count())

	// 没有上下文裁剪时退化为透明底前景
	patch, err = selectionPatch(&model.SelectionResult{Cutout: encodedCutout})
	require.NoError(t, err)
	assert.Equal(t, cutout.Pix, patch.Image.Pix)
	assert.Equal(t, 1, patch.Mask.Count())

	_, err = selectionPatch(&model.SelectionResult{Cutout: "%%%"})
	assert.Error(t, err)
}
