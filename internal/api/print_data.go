package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cardDesigner/internal/assets"
	"cardDesigner/internal/badge"
	"cardDesigner/internal/cardlayout"
	"cardDesigner/internal/store"
	"cardDesigner/internal/visitors"
)

// PrintData 是 worker 从内部接口拉取的打印数据：已内联素材的 HTML 与告警。
type PrintData struct {
	VisitorID   string           `json:"visitor_id"`
	HTML        string           `json:"html"`
	PrintWidth  float64          `json:"print_width"`
	PrintHeight float64          `json:"print_height"`
	PrintUnit   cardlayout.Unit  `json:"print_unit"`
	Warnings    []assets.Warning `json:"warnings,omitempty"`
}

// PrintSize 还原打印尺寸。
func (d PrintData) PrintSize() cardlayout.PrintSize {
	return cardlayout.PrintSize{Width: d.PrintWidth, Height: d.PrintHeight, Unit: d.PrintUnit}
}

// BadgeService 把已保存的布局、访客数据与素材组合成可渲染的工牌。
type BadgeService struct {
	Layouts  store.Store
	Visitors visitors.Directory
	Assets   *assets.Gatherer
	Logger   *slog.Logger
}

// PreparedBadge 是渲染前的全部输入。
type PreparedBadge struct {
	Layout  cardlayout.CardLayout
	Visitor badge.Visitor
	Assets  assets.Result
}

// Render 生成元素树，并合并素材检查阶段隐藏的元素。
func (p PreparedBadge) Render(opts badge.Options) badge.Card {
	return badge.Render(p.Layout, p.Visitor, p.Assets.Assets, opts)
}

// CurrentLayout 返回已保存的布局，从未保存时返回默认设计。
func (s *BadgeService) CurrentLayout(ctx context.Context) (cardlayout.CardLayout, error) {
	layout, err := s.Layouts.Get(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return cardlayout.DefaultCardLayout, nil
		}
		return cardlayout.CardLayout{}, err
	}
	return layout, nil
}

// PrepareForVisitor 按访客 ID 查询访客并准备渲染输入。
func (s *BadgeService) PrepareForVisitor(ctx context.Context, visitorID string, inline bool) (PreparedBadge, error) {
	visitor, err := s.Visitors.Find(ctx, visitorID)
	if err != nil {
		return PreparedBadge{}, err
	}
	layout, err := s.CurrentLayout(ctx)
	if err != nil {
		return PreparedBadge{}, fmt.Errorf("load card layout: %w", err)
	}
	return s.Prepare(ctx, layout, visitor, inline)
}

// Prepare 解析并检查素材。素材缺失只会隐藏对应元素；Bucket 不存在视为系统错误。
func (s *BadgeService) Prepare(ctx context.Context, layout cardlayout.CardLayout, visitor badge.Visitor, inline bool) (PreparedBadge, error) {
	layout = layout.Normalize()
	result, err := s.Assets.Gather(ctx, layout, visitor, inline)
	if err != nil {
		return PreparedBadge{}, err
	}
	return PreparedBadge{Layout: layout, Visitor: visitor, Assets: result}, nil
}

// BuildPrintData 构造打印数据：素材内联为 data URL，缺失素材隐藏并记录 4004 告警。
func (s *BadgeService) BuildPrintData(ctx context.Context, visitorID string) (PrintData, []assets.RemovedAsset, error) {
	prepared, err := s.PrepareForVisitor(ctx, visitorID, true)
	if err != nil {
		return PrintData{}, nil, err
	}

	card := prepared.Render(badge.Options{Print: true})
	var buf bytes.Buffer
	if err := badge.WriteHTML(&buf, card, "badge "+prepared.Visitor.VisitorID); err != nil {
		return PrintData{}, prepared.Assets.Removed, fmt.Errorf("render badge html: %w", err)
	}

	return PrintData{
		VisitorID:   prepared.Visitor.VisitorID,
		HTML:        buf.String(),
		PrintWidth:  prepared.Layout.Print.Width,
		PrintHeight: prepared.Layout.Print.Height,
		PrintUnit:   prepared.Layout.Print.Unit,
		Warnings:    prepared.Assets.Warnings,
	}, prepared.Assets.Removed, nil
}
