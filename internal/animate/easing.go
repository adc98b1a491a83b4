package animate

import (
	"fmt"
	"sort"

	"github.com/fogleman/ease"
)

// Easing maps linear progress in [0,1] to eased progress.
type Easing func(t float64) float64

var easings = map[string]Easing{
	"linear":        ease.Linear,
	"in-quad":       ease.InQuad,
	"out-quad":      ease.OutQuad,
	"in-out-quad":   ease.InOutQuad,
	"in-cubic":      ease.InCubic,
	"out-cubic":     ease.OutCubic,
	"in-out-cubic":  ease.InOutCubic,
	"in-sine":       ease.InSine,
	"out-sine":      ease.OutSine,
	"in-out-sine":   ease.InOutSine,
	"in-expo":       ease.InExpo,
	"out-expo":      ease.OutExpo,
	"in-out-expo":   ease.InOutExpo,
	"out-back":      ease.OutBack,
	"out-bounce":    ease.OutBounce,
	"in-out-bounce": ease.InOutBounce,
}

// EasingByName returns the named easing curve.
func EasingByName(name string) (Easing, error) {
	if name == "" {
		return ease.InOutQuad, nil
	}
	fn, ok := easings[name]
	if !ok {
		return nil, fmt.Errorf("animate: unknown easing %q (known: %v)", name, EasingNames())
	}
	return fn, nil
}

// EasingNames lists the supported easing names in sorted order.
func EasingNames() []string {
	names := make([]string, 0, len(easings))
	for name := range easings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
