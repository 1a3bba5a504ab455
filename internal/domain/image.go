package domain

// Image описывает загруженное изображение тенанта; Data - исходные байты, ObjectKey - ключ в S3
// (пуст, если изображение пришло напрямую в запросе).
type Image struct {
	ID          string
	Tenant      string
	ObjectKey   string
	FileName    string
	ContentType string
	Data        []byte
	Attributes  map[string]string
}

func NewImage(id string, tenant string, data []byte, contentType string) *Image {
	return &Image{
		ID:          id,
		Tenant:      tenant,
		ContentType: contentType,
		Data:        data,
	}
}

// Size возвращает размер изображения в байтах.
func (i *Image) Size() int64 {
	return int64(len(i.Data))
}

// Metadata собирает метаданные для сохранения вместе с эмбеддингом.
func (i *Image) Metadata(features *ImageFeatures) *ImageMetadata {
	return &ImageMetadata{
		Version:    MetadataVersion,
		ObjectKey:  i.ObjectKey,
		FileName:   i.FileName,
		MimeType:   i.ContentType,
		SizeBytes:  i.Size(),
		Features:   features,
		Attributes: i.Attributes,
	}
}

// StoredObject описывает объект изображения в S3.
type StoredObject struct {
	Bucket      string
	ObjectKey   string
	Size        int64
	ContentType string
}
