package server

import (
	"github.com/rivetlabs/rivet/attachment"
	"github.com/rivetlabs/rivet/internal/config"
	"github.com/rivetlabs/rivet/internal/repository"
	"github.com/rivetlabs/rivet/storage"
)

// NewImageDefinition builds the photo image attachment definition from the
// service configuration. Both the API server and the worker share it.
func NewImageDefinition(cfg *config.Config, backend storage.Backend) (*attachment.Definition, error) {
	return attachment.Define(attachment.Spec{
		Name:    repository.ImageAttachment,
		Styles:  cfg.Styles,
		Backend: backend,
		Whiny:   cfg.Whiny,
		Validations: []attachment.Validation{
			attachment.ValidateContentType(cfg.AllowedTypes...),
			attachment.ValidateSize(1, cfg.MaxFileSize),
		},
	})
}
