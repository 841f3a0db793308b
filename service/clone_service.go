package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/TIANLI0/CloneKit/config"
	"github.com/TIANLI0/CloneKit/model"
	"github.com/TIANLI0/CloneKit/utils"
	"go.uber.org/zap"
	"golang.org/x/image/draw"
)

// ErrQueueFull 等待处理名额超时
var ErrQueueFull = errors.New("processing queue is full, retry later")

// CloneService 负责涂抹分割与泊松融合
type CloneService struct {
	classifier    ClassifierOptions
	compositor    CompositorOptions
	threshold     float64
	semaphore     chan struct{}
	queueTimeout  time.Duration
	maskProcessor *MaskProcessor
	maskAnalyzer  *MaskAnalyzer
}

// SegmentOptions 单次分割请求参数
type SegmentOptions struct {
	ID string
	// LargestOnly 只保留最大的连通前景
	LargestOnly bool
}

// CompositeOutput 融合结果
type CompositeOutput struct {
	Image      *image.NRGBA
	Placement  image.Rectangle
	MaskPixels int
}

func NewCloneService(cfg *config.Config) (*CloneService, error) {
	mp, err := NewMaskProcessor(cfg.Compositor.TrimMargin, cfg.Render.MaskColor)
	if err != nil {
		return nil, err
	}
	classifier := ClassifierOptions{
		Epochs:       cfg.Classifier.Epochs,
		LearningRate: cfg.Classifier.LearningRate,
		Hidden1:      cfg.Classifier.Hidden1,
		Hidden2:      cfg.Classifier.Hidden2,
		StallChecks:  cfg.Classifier.StallChecks,
		MaxRestarts:  cfg.Classifier.MaxRestarts,
		Seed:         cfg.Classifier.Seed,
	}
	if err := classifier.Validate(); err != nil {
		return nil, err
	}
	if cfg.Classifier.LearningRate <= 0 {
		return nil, fmt.Errorf("invalid classifier options: learning_rate must be positive, got %g", cfg.Classifier.LearningRate)
	}
	return &CloneService{
		classifier: classifier,
		compositor: CompositorOptions{
			DilationKernel:   cfg.Compositor.DilationKernel,
			Tolerance:        cfg.Compositor.Tolerance,
			MaxIterations:    cfg.Compositor.MaxIterations,
			ConditionLimit:   cfg.Compositor.ConditionLimit,
			ParallelChannels: cfg.Compositor.ParallelChannels,
		},
		threshold:     cfg.Classifier.Threshold,
		semaphore:     make(chan struct{}, max(1, cfg.Processing.MaxConcurrent)),
		queueTimeout:  time.Duration(cfg.Processing.QueueTimeout) * time.Second,
		maskProcessor: mp,
		maskAnalyzer:  NewMaskAnalyzer(cfg.Classifier.Threshold),
	}, nil
}

// acquire 并发控制
func (s *CloneService) acquire(ctx context.Context) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, s.queueTimeout)
	defer cancel()

	select {
	case s.semaphore <- struct{}{}:
		return func() { <-s.semaphore }, nil
	case <-ctx.Done():
		return nil, ErrQueueFull
	}
}

// Segment 根据涂抹层训练分类器，推断前景掩码并裁剪出前景
func (s *CloneService) Segment(ctx context.Context, img, scribble *image.NRGBA, opts SegmentOptions) (*model.SelectionResult, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if img.Bounds().Size() != scribble.Bounds().Size() {
		return nil, fmt.Errorf("scribble %v vs image %v: %w", scribble.Bounds().Size(), img.Bounds().Size(), ErrDimensionMismatch)
	}

	startTime := time.Now()
	width, height := img.Bounds().Dx(), img.Bounds().Dy()

	fgMask, bgMask := ScribbleMasks(scribble)
	fgSamples, err := ExtractSamples(fgMask, img, LabelForeground)
	if err != nil {
		return nil, err
	}
	bgSamples, err := ExtractSamples(bgMask, img, LabelBackground)
	if err != nil {
		return nil, err
	}

	utils.Logger.Info("segmenting image",
		zap.String("id", opts.ID),
		zap.Int("width", width),
		zap.Int("height", height),
		zap.Int("foreground_samples", len(fgSamples)),
		zap.Int("background_samples", len(bgSamples)))

	params, err := TrainClassifier(ctx, fgSamples, bgSamples, s.classifier)
	if err != nil {
		return nil, fmt.Errorf("train classifier: %w", err)
	}

	pm, err := EvaluateClassifier(params, img)
	if err != nil {
		return nil, fmt.Errorf("evaluate classifier: %w", err)
	}

	mask := ThresholdMask(pm, s.threshold)
	if opts.LargestOnly {
		mask = KeepLargest(mask)
	}

	selection, err := ExtractSelection(img, mask)
	if err != nil {
		return nil, err
	}
	cutout, box, err := s.maskProcessor.Trim(selection, mask)
	if err != nil {
		return nil, err
	}
	// 同一个框裁剪原图，保留掩码外一圈真实像素供融合使用
	patch, _, err := s.maskProcessor.Trim(img, mask)
	if err != nil {
		return nil, err
	}

	maskBase64, err := EncodePNGBase64(s.maskProcessor.Render(mask))
	if err != nil {
		return nil, err
	}
	cutoutBase64, err := EncodePNGBase64(cutout)
	if err != nil {
		return nil, err
	}
	patchBase64, err := EncodePNGBase64(patch)
	if err != nil {
		return nil, err
	}

	stats := s.maskAnalyzer.Analyze(pm, mask)

	result := &model.SelectionResult{
		ID:     opts.ID,
		Width:  width,
		Height: height,
		BoundingBox: model.BBox{
			X:      box.Min.X,
			Y:      box.Min.Y,
			Width:  box.Dx(),
			Height: box.Dy(),
		},
		Mask:              maskBase64,
		Cutout:            cutoutBase64,
		Patch:             patchBase64,
		ForegroundRatio:   stats.ForegroundRatio,
		Confidence:        stats.Confidence,
		ForegroundSamples: len(fgSamples),
		BackgroundSamples: len(bgSamples),
		Timestamp:         time.Now().Unix(),
	}

	utils.Logger.Info("image segmented successfully",
		zap.String("id", opts.ID),
		zap.Duration("duration", time.Since(startTime)),
		zap.Float64("foreground_ratio", stats.ForegroundRatio),
		zap.Float64("confidence", stats.Confidence),
		zap.Float64("uncertain", stats.Uncertain))

	return result, nil
}

// Composite 把前景按 p 放到背景上并做泊松融合。
// 引导图为背景叠加前景图像，掩码取自同样放置后的前景掩码
func (s *CloneService) Composite(ctx context.Context, background *image.NRGBA, patch Patch, p Placement) (*CompositeOutput, error) {
	if err := sameSize(patch.Mask, patch.Image); err != nil {
		return nil, err
	}

	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	width, height := background.Bounds().Dx(), background.Bounds().Dy()
	target := cloneNRGBA(background)
	placed := PlaceOnto(target, patch.Image, p, draw.CatmullRom, draw.Over)
	mask := PlaceMask(patch.Mask, width, height, p)

	utils.Logger.Info("compositing cutout",
		zap.Int("width", width),
		zap.Int("height", height),
		zap.Int("x", placed.Min.X),
		zap.Int("y", placed.Min.Y),
		zap.Int("placed_width", placed.Dx()),
		zap.Int("placed_height", placed.Dy()))

	out, err := CompositePoisson(ctx, background, target, mask, s.compositor)
	if err != nil {
		return nil, err
	}

	return &CompositeOutput{
		Image:      out,
		Placement:  placed,
		MaskPixels: mask.Count(),
	}, nil
}
