package media

import (
	"path"
	"strings"

	"telemirror/internal/models"
)

// Gateway media kind strings are not a closed set; different gateway
// versions have shipped "image" vs "photo" and "audio_note" vs
// "voice". Normalize here so the stored media_type column stays
// canonical.
var kindAliases = map[string]models.MediaType{
	"photo":      models.MediaTypePhoto,
	"image":      models.MediaTypePhoto,
	"video":      models.MediaTypeVideo,
	"animation":  models.MediaTypeVideo,
	"voice":      models.MediaTypeVoice,
	"audio_note": models.MediaTypeVoice,
	"audio":      models.MediaTypeAudio,
	"music":      models.MediaTypeAudio,
	"sticker":    models.MediaTypeSticker,
	"document":   models.MediaTypeDocument,
	"file":       models.MediaTypeDocument,
}

var extensionTypes = map[string]models.MediaType{
	".jpg":  models.MediaTypePhoto,
	".jpeg": models.MediaTypePhoto,
	".png":  models.MediaTypePhoto,
	".gif":  models.MediaTypePhoto,
	".webp": models.MediaTypeSticker,
	".tgs":  models.MediaTypeSticker,
	".mp4":  models.MediaTypeVideo,
	".mov":  models.MediaTypeVideo,
	".webm": models.MediaTypeVideo,
	".ogg":  models.MediaTypeVoice,
	".oga":  models.MediaTypeVoice,
	".opus": models.MediaTypeVoice,
	".mp3":  models.MediaTypeAudio,
	".m4a":  models.MediaTypeAudio,
	".flac": models.MediaTypeAudio,
	".wav":  models.MediaTypeAudio,
}

// Classify maps a gateway media kind plus the attachment URL to the
// canonical media type. An unknown kind falls back to extension
// sniffing on the URL; anything unrecognizable is a document.
func Classify(kind, url string) models.MediaType {
	if mt, ok := kindAliases[strings.ToLower(strings.TrimSpace(kind))]; ok {
		return mt
	}
	if mt, ok := classifyByExtension(url); ok {
		return mt
	}
	return models.MediaTypeDocument
}

func classifyByExtension(url string) (models.MediaType, bool) {
	if url == "" {
		return "", false
	}
	// Strip query parameters before looking at the extension.
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	mt, ok := extensionTypes[strings.ToLower(path.Ext(url))]
	return mt, ok
}
