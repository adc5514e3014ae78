package extract

import (
	"fmt"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/tidwall/gjson"
)

func loadJSON(content []byte, path string) (models.Document, error) {
	if !gjson.ValidBytes(content) {
		return models.Document{}, fmt.Errorf("parse %s: invalid JSON", path)
	}
	return models.Document{
		Raw: content,
		Metadata: map[string]string{
			models.MetaSource: path,
			models.MetaKind:   string(models.KindJSON),
		},
	}, nil
}
