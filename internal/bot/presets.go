package bot

import (
	"strconv"

	"github.com/faceswitch/faceswitch/pkg/models"
)

// presetNames is the built-in target catalog, ordered by callback id "1".."12"
var presetNames = []string{
	"Peter the Great",
	"Catherine the Great",
	"Mona Lisa",
	"Count Stroganoff",
	"Emperor of Mankind",
	"Adeptus Sororitas",
	"Cyberboy",
	"Cybergirl",
	"Anime boy",
	"Anime girl",
	"Ken",
	"Barbie",
}

// PresetName resolves a callback id to its display name; ok is false for ids
// outside the catalog
func PresetName(id string) (string, bool) {
	for i, name := range presetNames {
		if presetID(i) == id {
			return name, true
		}
	}
	return "", false
}

// PresetOptions builds the inline keyboard options for the target catalog
func PresetOptions() []models.ReplyOption {
	options := make([]models.ReplyOption, 0, len(presetNames))
	for i, name := range presetNames {
		options = append(options, models.ReplyOption{Label: name, Data: presetID(i)})
	}
	return options
}

func presetID(index int) string {
	return strconv.Itoa(index + 1)
}
