package classifier

import (
	"context"
	"strings"

	"camclass/pkg/models"
)

// Classifier is the narrow interface the batch runner depends on. Given
// an image path it returns the predicted label and confidence, or a typed
// classification error.
type Classifier interface {
	Classify(ctx context.Context, imagePath string) (models.Prediction, error)
}

// Func adapts a plain function to the Classifier interface.
type Func func(ctx context.Context, imagePath string) (models.Prediction, error)

func (f Func) Classify(ctx context.Context, imagePath string) (models.Prediction, error) {
	return f(ctx, imagePath)
}

// normalizeLabel keeps the primary name of a comma-separated taxon label
// ("Bos gaurus, Indian bison" -> "Bos gaurus").
func normalizeLabel(label string) string {
	if i := strings.Index(label, ","); i >= 0 {
		label = label[:i]
	}
	label = strings.TrimSpace(label)
	if label == "" {
		return models.UnidentifiedLabel
	}
	return label
}

// applyThreshold demotes low-confidence predictions to the sentinel label.
func applyThreshold(p models.Prediction, threshold float64) models.Prediction {
	p.Label = normalizeLabel(p.Label)
	if threshold > 0 && p.Confidence < threshold {
		p.Label = models.UnidentifiedLabel
	}
	return p
}
