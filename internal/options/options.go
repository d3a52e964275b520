package options

import (
	"github.com/stayloop/authkit/config"
	"go.uber.org/fx"
)

type Options struct {
	Config            *config.Config
	DatabaseModels    []any
	IdentityProviders []fx.Option
	EnableTOTP        bool
	EnableMail        bool
	EnableDevices     bool
	EnableAuthAPI     bool
	ExtraFxOptions    []fx.Option
}

type Option func(*Options)

func WithConfig(cfg *config.Config) Option {
	return func(opts *Options) {
		opts.Config = cfg
	}
}

func WithModels(models ...any) Option {
	return func(opts *Options) {
		opts.DatabaseModels = append(opts.DatabaseModels, models...)
	}
}

func WithIdentityFrom(providers ...fx.Option) Option {
	return func(opts *Options) {
		opts.IdentityProviders = append(opts.IdentityProviders, providers...)
	}
}

func WithTOTP() Option {
	return func(opts *Options) {
		opts.EnableTOTP = true
	}
}

func WithMail() Option {
	return func(opts *Options) {
		opts.EnableMail = true
	}
}

func WithDevicePolicy() Option {
	return func(opts *Options) {
		opts.EnableDevices = true
	}
}

func WithAuthAPI() Option {
	return func(opts *Options) {
		opts.EnableAuthAPI = true
	}
}

func WithFxOptions(fxOpts ...fx.Option) Option {
	return func(opts *Options) {
		opts.ExtraFxOptions = append(opts.ExtraFxOptions, fxOpts...)
	}
}
