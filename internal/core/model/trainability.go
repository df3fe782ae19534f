package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"sentiment-backend/internal/core/bert"
)

// LastLayerAlias names the final encoder block whatever the depth.
const LastLayerAlias = "encoder.layer.last"

var DefaultGroups = []string{LastLayerAlias, "pooler"}

var ErrInvalidTrainability = errors.New("invalid trainability policy")

// ResolveGroup expands aliases and strips a leading "bert." so groups can be
// written against either the encoder or the full checkpoint names.
func ResolveGroup(group string, numLayers int) string {
	group = strings.TrimPrefix(strings.TrimSpace(group), bert.Prefix)
	if group == LastLayerAlias || strings.HasPrefix(group, LastLayerAlias+".") {
		return "encoder.layer." + strconv.Itoa(numLayers-1) + strings.TrimPrefix(group, LastLayerAlias)
	}
	return group
}

// ApplyTrainability freezes the whole encoder, then unfreezes every parameter
// under each group. A group matching nothing is an error, so a typo can never
// leave the encoder silently frozen.
func ApplyTrainability(enc *bert.Encoder, groups []string) ([]string, error) {
	for _, p := range enc.Params.All() {
		p.Trainable = false
		p.ZeroGrad()
	}

	var resolved []string
	for _, g := range groups {
		if strings.TrimSpace(g) == "" {
			continue
		}
		name := ResolveGroup(g, enc.Config.NumHiddenLayers)
		matched := enc.Params.Match(name)
		if len(matched) == 0 {
			return nil, fmt.Errorf("%w: group %q (%s) matches no encoder parameters", ErrInvalidTrainability, g, name)
		}
		for _, p := range matched {
			p.Trainable = true
		}
		resolved = append(resolved, name)
	}
	if len(resolved) == 0 {
		return nil, fmt.Errorf("%w: no trainable encoder groups given", ErrInvalidTrainability)
	}
	return resolved, nil
}
