package services

import (
	"fmt"
	"strings"
)

const stageKeys = "keys"

// ValidateAssetID rejects ids that cannot be used as a relative path below
// the media or storage root: blank ids, absolute paths, backslashes, NUL
// bytes and "." or ".." segments. Slash-separated subdirectories are allowed.
func ValidateAssetID(id string) error {
	if strings.TrimSpace(id) == "" {
		return Wrap(ErrValidation, stageKeys, "asset id", "asset id is required", nil)
	}
	if strings.ContainsAny(id, "\x00\\") || strings.HasPrefix(id, "/") {
		return Wrap(ErrValidation, stageKeys, "asset id", fmt.Sprintf("invalid asset id %q", id), nil)
	}
	for _, segment := range strings.Split(id, "/") {
		switch segment {
		case "", ".", "..":
			return Wrap(ErrValidation, stageKeys, "asset id",
				fmt.Sprintf("invalid path segment %q in asset id %q", segment, id), nil)
		}
	}
	return nil
}

// ValidateVariantKey rejects keys that could not be a single file name suffix.
func ValidateVariantKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return Wrap(ErrValidation, stageKeys, "variant key", "variant key is required", nil)
	}
	if key == "." || key == ".." || strings.ContainsAny(key, "/\\\x00") {
		return Wrap(ErrValidation, stageKeys, "variant key", fmt.Sprintf("invalid variant key %q", key), nil)
	}
	return nil
}

// ValidateJobKey checks both halves of a job identity.
func ValidateJobKey(assetID, variantKey string) error {
	if err := ValidateAssetID(assetID); err != nil {
		return err
	}
	return ValidateVariantKey(variantKey)
}
