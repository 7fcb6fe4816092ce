package cardlayout

// DefaultCardLayout 是唯一的默认设计：首次加载、读取失败以及缺省字段都从这里取值。
var DefaultCardLayout = CardLayout{
	Canvas: Canvas{WidthPx: 309, HeightPx: 475},
	Print:  PrintSize{Width: 54, Height: 86, Unit: UnitMM},

	Photo: PhotoElement{
		Box:   Box{Width: 100, Height: 100, MarginTop: 40, MarginLeft: 104},
		Shape: ShapeCircle,
	},
	VisitorName: TextElement{
		Box:        Box{Width: 269, Height: 40, MarginTop: 160, MarginLeft: 20},
		FontSizePx: 22,
		Color:      "#1f2937",
		FontFamily: "Arial",
		Align:      AlignCenter,
	},
	CompanyName: TextElement{
		Box:        Box{Width: 269, Height: 30, MarginTop: 205, MarginLeft: 20},
		FontSizePx: 16,
		Color:      "#4b5563",
		FontFamily: "Arial",
		Align:      AlignCenter,
	},
	Barcode: CodeElement{
		Box:     Box{Width: 200, Height: 60, MarginTop: 260, MarginLeft: 54},
		Visible: true,
		Kind:    CodeKindBarcode,
	},
	QRCode: CodeElement{
		Box:     Box{Width: 100, Height: 100, MarginTop: 340, MarginLeft: 104},
		Visible: false,
		Kind:    CodeKindQR,
	},
}
