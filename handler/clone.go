package handler

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/TIANLI0/CloneKit/config"
	"github.com/TIANLI0/CloneKit/model"
	"github.com/TIANLI0/CloneKit/service"
	"github.com/TIANLI0/CloneKit/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type CloneHandler struct {
	cfg          *config.Config
	redisService *service.RedisService
	cloneService *service.CloneService
}

func NewCloneHandler(cfg *config.Config, redis *service.RedisService, clone *service.CloneService) *CloneHandler {
	return &CloneHandler{
		cfg:          cfg,
		redisService: redis,
		cloneService: clone,
	}
}

// uploadError 上传校验失败
type uploadError struct {
	field string
	msg   string
	err   error
}

func (e *uploadError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.field, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.field, e.msg)
}

func (e *uploadError) Unwrap() error { return e.err }

// readUpload 读取并校验上传的图片
func (h *CloneHandler) readUpload(c *gin.Context, field string) ([]byte, error) {
	file, err := c.FormFile(field)
	if err != nil {
		return nil, &uploadError{field: field, msg: "missing file", err: err}
	}

	// 验证文件大小
	if file.Size > h.cfg.Upload.MaxSize {
		return nil, &uploadError{field: field, msg: fmt.Sprintf("file exceeds %d MB", h.cfg.Upload.MaxSize/(1024*1024))}
	}

	// 验证文件类型
	if !h.isAllowedType(file.Header.Get("Content-Type")) {
		return nil, &uploadError{field: field, msg: "unsupported file type, JPEG/PNG only"}
	}

	f, err := file.Open()
	if err != nil {
		return nil, &uploadError{field: field, msg: "failed to open file", err: err}
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, &uploadError{field: field, msg: "failed to read file", err: err}
	}
	return data, nil
}

// Segment 处理原图与涂抹层上传，返回推断出的前景
func (h *CloneHandler) Segment(c *gin.Context) {
	imageData, err := h.readUpload(c, "image")
	if err != nil {
		h.fail(c, "请上传原图", err)
		return
	}
	scribbleData, err := h.readUpload(c, "scribble")
	if err != nil {
		h.fail(c, "请上传涂抹层", err)
		return
	}

	largestOnly := c.DefaultPostForm("largest_only", "false") == "true"

	// 检查缓存（带参数区分）
	id := utils.PairMD5(imageData, scribbleData)
	if largestOnly {
		id += "-largest"
	}
	ctx := c.Request.Context()

	cached, err := h.redisService.GetSelection(ctx, id)
	if err != nil {
		utils.Logger.Warn("failed to get cache", zap.Error(err))
	}
	if cached != nil {
		utils.Logger.Info("cache hit", zap.String("id", id))
		c.JSON(http.StatusOK, model.SelectionResponse{
			Success: true,
			Message: "分割成功（来自缓存）",
			Data:    cached,
		})
		return
	}

	img, err := service.DecodeImage(bytes.NewReader(imageData))
	if err != nil {
		h.fail(c, "原图解码失败", &uploadError{field: "image", msg: "undecodable", err: err})
		return
	}
	scribble, err := service.DecodeImage(bytes.NewReader(scribbleData))
	if err != nil {
		h.fail(c, "涂抹层解码失败", &uploadError{field: "scribble", msg: "undecodable", err: err})
		return
	}

	result, err := h.cloneService.Segment(ctx, img, scribble, service.SegmentOptions{ID: id, LargestOnly: largestOnly})
	if err != nil {
		utils.Logger.Error("failed to segment image", zap.String("id", id), zap.Error(err))
		h.fail(c, "分割失败", err)
		return
	}

	// 保存到缓存
	if err := h.redisService.SetSelection(ctx, id, result); err != nil {
		utils.Logger.Warn("failed to set cache", zap.Error(err))
	}

	c.JSON(http.StatusOK, model.SelectionResponse{
		Success: true,
		Message: "分割成功",
		Data:    result,
	})
}

// GetSelection 根据ID获取分割结果
func (h *CloneHandler) GetSelection(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "ID参数缺失",
		})
		return
	}

	result, err := h.redisService.GetSelection(c.Request.Context(), id)
	if err != nil {
		utils.Logger.Error("failed to get selection", zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "查询失败",
			Error:   err.Error(),
		})
		return
	}

	if result == nil {
		c.JSON(http.StatusNotFound, model.ErrorResponse{
			Success: false,
			Message: "未找到该分割结果",
		})
		return
	}

	c.JSON(http.StatusOK, model.SelectionResponse{
		Success: true,
		Message: "查询成功",
		Data:    result,
	})
}

// Composite 将前景泊松融合到背景图
func (h *CloneHandler) Composite(c *gin.Context) {
	backgroundData, err := h.readUpload(c, "background")
	if err != nil {
		h.fail(c, "请上传背景图", err)
		return
	}
	background, err := service.DecodeImage(bytes.NewReader(backgroundData))
	if err != nil {
		h.fail(c, "背景图解码失败", &uploadError{field: "background", msg: "undecodable", err: err})
		return
	}

	placement, err := parsePlacement(c)
	if err != nil {
		h.fail(c, "参数错误", err)
		return
	}

	selectionID := c.PostForm("selection_id")
	if selectionID != "" {
		cached, err := h.redisService.GetSelection(c.Request.Context(), selectionID)
		if err != nil {
			utils.Logger.Error("failed to get selection", zap.Error(err))
			h.fail(c, "查询失败", err)
			return
		}
		if cached == nil {
			c.JSON(http.StatusNotFound, model.ErrorResponse{
				Success: false,
				Message: "未找到该分割结果",
			})
			return
		}
		patch, err := selectionPatch(cached)
		if err != nil {
			h.fail(c, "前景解码失败", err)
			return
		}
		h.composite(c, background, patch, placement, selectionID)
		return
	}

	cutoutData, err := h.readUpload(c, "cutout")
	if err != nil {
		h.fail(c, "请上传前景或提供selection_id", err)
		return
	}
	cutout, err := service.DecodeImage(bytes.NewReader(cutoutData))
	if err != nil {
		h.fail(c, "前景解码失败", &uploadError{field: "cutout", msg: "undecodable", err: err})
		return
	}
	h.composite(c, background, service.PatchFromCutout(cutout), placement, "")
}

// selectionPatch 缓存中有同框原图裁剪时带上下文，否则退化为透明底前景
func selectionPatch(r *model.SelectionResult) (service.Patch, error) {
	cutout, err := service.DecodePNGBase64(r.Cutout)
	if err != nil {
		return service.Patch{}, err
	}
	if r.Patch == "" {
		return service.PatchFromCutout(cutout), nil
	}
	crop, err := service.DecodePNGBase64(r.Patch)
	if err != nil {
		return service.Patch{}, err
	}
	return service.NewPatch(crop, cutout)
}

func (h *CloneHandler) composite(c *gin.Context, background *image.NRGBA, patch service.Patch, p service.Placement, selectionID string) {
	out, err := h.cloneService.Composite(c.Request.Context(), background, patch, p)
	if err != nil {
		utils.Logger.Error("failed to composite image", zap.Error(err))
		h.fail(c, "融合失败", err)
		return
	}

	encoded, err := service.EncodePNGBase64(out.Image)
	if err != nil {
		h.fail(c, "结果编码失败", err)
		return
	}

	c.JSON(http.StatusOK, model.CompositeResponse{
		Success: true,
		Message: "融合成功",
		Data: &model.CompositeResult{
			Width:  out.Image.Bounds().Dx(),
			Height: out.Image.Bounds().Dy(),
			Placement: model.BBox{
				X:      out.Placement.Min.X,
				Y:      out.Placement.Min.Y,
				Width:  out.Placement.Dx(),
				Height: out.Placement.Dy(),
			},
			MaskPixels:  out.MaskPixels,
			Image:       encoded,
			Timestamp:   time.Now().Unix(),
			SelectionID: selectionID,
		},
	})
}

func parsePlacement(c *gin.Context) (service.Placement, error) {
	p := service.Placement{Scale: 1, Fit: true}
	var err error
	if p.X, err = strconv.Atoi(c.DefaultPostForm("x", "0")); err != nil {
		return p, &uploadError{field: "x", msg: "not an integer", err: err}
	}
	if p.Y, err = strconv.Atoi(c.DefaultPostForm("y", "0")); err != nil {
		return p, &uploadError{field: "y", msg: "not an integer", err: err}
	}
	if p.Scale, err = strconv.ParseFloat(c.DefaultPostForm("scale", "1"), 64); err != nil || p.Scale <= 0 {
		return p, &uploadError{field: "scale", msg: "must be a positive number", err: err}
	}
	p.Fit = c.DefaultPostForm("fit", "true") != "false"
	return p, nil
}

// fail 按错误类型返回对应状态码
func (h *CloneHandler) fail(c *gin.Context, message string, err error) {
	c.JSON(statusFor(err), model.ErrorResponse{
		Success: false,
		Message: message,
		Error:   err.Error(),
	})
}

func statusFor(err error) int {
	var (
		upload       *uploadError
		insufficient *service.InsufficientDataError
		degenerate   *service.DegenerateMaskError
	)
	switch {
	case errors.As(err, &upload):
		return http.StatusBadRequest
	case errors.As(err, &insufficient), errors.As(err, &degenerate), errors.Is(err, service.ErrDimensionMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrQueueFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *CloneHandler) isAllowedType(contentType string) bool {
	for _, allowed := range h.cfg.Upload.AllowedTypes {
		if strings.EqualFold(contentType, allowed) {
			return true
		}
	}
	return false
}
