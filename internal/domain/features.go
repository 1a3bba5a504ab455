package domain

// FeaturesVersion - текущая версия схемы ImageFeatures.
const FeaturesVersion = 1

// ImageFeatures - побочные признаки изображения от сервиса анализа (метки, бренд, материал,
// геометрия, фон). Используются только мульти-сигнальным скорингом; при их отсутствии
// сравнение идёт по косинусу эмбеддингов.
type ImageFeatures struct {
	Version int `json:"version"`

	// Метки распознавания
	Labels   []string `json:"labels,omitempty"`
	Colors   []string `json:"colors,omitempty"`
	Category string   `json:"category,omitempty"`
	Brand    string   `json:"brand,omitempty"`
	Size     string   `json:"size,omitempty"`
	Material string   `json:"material,omitempty"`

	// Свойства изображения
	Width       int     `json:"width,omitempty"`
	Height      int     `json:"height,omitempty"`
	AspectRatio float64 `json:"aspectRatio,omitempty"`
	Megapixels  float64 `json:"megapixels,omitempty"`
	FileSizeMB  float64 `json:"fileSizeMB,omitempty"`

	// BackgroundHistogram - нормированная гистограмма цветов по краям кадра.
	BackgroundHistogram []float32 `json:"backgroundHistogram,omitempty"`

	Approved         bool   `json:"approved"`
	ModerationReason string `json:"moderationReason,omitempty"`
}

// HasGeometry сообщает, известны ли размеры изображения.
func (f *ImageFeatures) HasGeometry() bool {
	return f != nil && f.AspectRatio > 0
}

// HasSemantics сообщает, есть ли хотя бы одно семантическое поле.
func (f *ImageFeatures) HasSemantics() bool {
	return f != nil && (f.Category != "" || f.Brand != "" || f.Material != "")
}
