package application

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mattn/go-shellwords"
)

// RegisterConfigValidators registers the custom tags used by Config:
// semver, modelname and shellcmd.
func RegisterConfigValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("semver", validateSemver); err != nil {
		return fmt.Errorf("failed to register semver validator: %w", err)
	}
	if err := v.RegisterValidation("modelname", validateModelName); err != nil {
		return fmt.Errorf("failed to register modelname validator: %w", err)
	}
	if err := v.RegisterValidation("shellcmd", validateShellCommand); err != nil {
		return fmt.Errorf("failed to register shellcmd validator: %w", err)
	}
	return nil
}

// validateSemver accepts X.Y.Z where X, Y and Z are non-negative integers.
func validateSemver(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	var major, minor, patch int
	var rest string
	n, _ := fmt.Sscanf(value, "%d.%d.%d%s", &major, &minor, &patch, &rest)
	return n == 3 && major >= 0 && minor >= 0 && patch >= 0
}

// validateModelName accepts a bare model identifier. The provider is
// configured separately, so a slash or whitespace is a mistake.
func validateModelName(fl validator.FieldLevel) bool {
	model := fl.Field().String()
	if model == "" {
		return true
	}
	return !strings.ContainsAny(model, "/ \t\n")
}

// validateShellCommand accepts a command line that splits into at least one
// word without shell metacharacters such as pipes or redirects.
func validateShellCommand(fl validator.FieldLevel) bool {
	value := strings.TrimSpace(fl.Field().String())
	if value == "" {
		return true
	}
	args, err := shellwords.Parse(value)
	return err == nil && len(args) > 0
}
