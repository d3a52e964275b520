package mail

import (
	"bytes"
	"fmt"
	htmlTemplate "html/template"
	"path/filepath"
	textTemplate "text/template"

	"github.com/stayloop/authkit/config"
	"github.com/stayloop/authkit/services/logging"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// MailClient is the SMTP transport Send talks to. *mail.Client satisfies it;
// tests inject a fake.
type MailClient interface {
	DialAndSend(messages ...*mail.Msg) error
}

// Service sends transactional mail. Templates are optional: with no template
// directory configured only SendPlain and prebuilt messages work.
type Service struct {
	config        *config.MailConfig
	client        MailClient
	htmlTemplates *htmlTemplate.Template
	textTemplates *textTemplate.Template
	logger        *logging.Service
}

type TemplateData map[string]any

func NewService(cfg *config.MailConfig, logger *logging.Service) (*Service, error) {
	clientOpts := []mail.Option{
		mail.WithPort(cfg.Port),
	}

	switch cfg.Encryption {
	case "ssl":
		clientOpts = append(clientOpts, mail.WithSSL())
	case "none":
		clientOpts = append(clientOpts, mail.WithTLSPortPolicy(mail.NoTLS))
	default:
		clientOpts = append(clientOpts, mail.WithTLSPortPolicy(mail.TLSMandatory))
	}

	if cfg.Username != "" {
		clientOpts = append(clientOpts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username))
	}
	if cfg.Password != "" {
		clientOpts = append(clientOpts, mail.WithPassword(cfg.Password))
	}

	client, err := mail.NewClient(cfg.Host, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail client: %w", err)
	}

	return NewServiceWithClient(cfg, logger, client)
}

func NewServiceWithClient(cfg *config.MailConfig, logger *logging.Service, client MailClient) (*Service, error) {
	if cfg.FromAddress == "" {
		return nil, fmt.Errorf("MAIL_FROM_ADDRESS is required")
	}

	service := &Service{
		config: cfg,
		client: client,
		logger: logger,
	}

	if err := service.loadTemplates(); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("mail service initialized",
			zap.String("host", cfg.Host),
			zap.Int("port", cfg.Port),
			zap.String("from_address", cfg.FromAddress))
	}

	return service, nil
}

func (s *Service) loadTemplates() error {
	if s.config.TemplatesDir == "" {
		return nil
	}

	htmlFiles, err := filepath.Glob(filepath.Join(s.config.TemplatesDir, "*.html"))
	if err != nil {
		return fmt.Errorf("failed to scan html templates: %w", err)
	}
	if len(htmlFiles) > 0 {
		if s.htmlTemplates, err = htmlTemplate.ParseFiles(htmlFiles...); err != nil {
			return fmt.Errorf("failed to parse html templates: %w", err)
		}
	}

	textFiles, err := filepath.Glob(filepath.Join(s.config.TemplatesDir, "*.txt"))
	if err != nil {
		return fmt.Errorf("failed to scan text templates: %w", err)
	}
	if len(textFiles) > 0 {
		if s.textTemplates, err = textTemplate.ParseFiles(textFiles...); err != nil {
			return fmt.Errorf("failed to parse text templates: %w", err)
		}
	}

	if s.logger != nil {
		s.logger.Info("mail templates loaded",
			zap.Int("html", len(htmlFiles)),
			zap.Int("text", len(textFiles)))
	}

	return nil
}

// NewMessage starts a message with the configured sender set.
func (s *Service) NewMessage() (*mail.Msg, error) {
	message := mail.NewMsg()

	fromAddr := s.config.FromAddress
	if s.config.FromName != "" {
		fromAddr = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.FromAddress)
	}
	if err := message.From(fromAddr); err != nil {
		return nil, fmt.Errorf("failed to set from address: %w", err)
	}

	return message, nil
}

func (s *Service) Send(message *mail.Msg) error {
	if err := s.client.DialAndSend(message); err != nil {
		if s.logger != nil {
			s.logger.Error("failed to send email", zap.Error(err))
		}
		return err
	}

	if s.logger != nil {
		s.logger.Debug("email sent")
	}
	return nil
}

// SendTemplate renders templateName (.html and .txt variants, either or
// both) and sends the result. Both variants present makes a multipart
// message with the text alternative.
func (s *Service) SendTemplate(templateName string, to []string, subject string, data map[string]any) error {
	message, err := s.NewMessage()
	if err != nil {
		return err
	}
	if err := message.To(to...); err != nil {
		return fmt.Errorf("failed to set recipients: %w", err)
	}
	message.Subject(subject)

	if err := s.renderTemplate(templateName, data, message); err != nil {
		return err
	}

	return s.Send(message)
}

func (s *Service) renderTemplate(templateName string, data map[string]any, message *mail.Msg) error {
	var rendered bool

	if s.htmlTemplates != nil {
		if tpl := s.htmlTemplates.Lookup(templateName + ".html"); tpl != nil {
			var buf bytes.Buffer
			if err := tpl.Execute(&buf, data); err != nil {
				return fmt.Errorf("failed to execute html template %q: %w", templateName, err)
			}
			message.SetBodyString(mail.TypeTextHTML, buf.String())
			rendered = true
		}
	}

	if s.textTemplates != nil {
		if tpl := s.textTemplates.Lookup(templateName + ".txt"); tpl != nil {
			var buf bytes.Buffer
			if err := tpl.Execute(&buf, data); err != nil {
				return fmt.Errorf("failed to execute text template %q: %w", templateName, err)
			}
			if rendered {
				message.AddAlternativeString(mail.TypeTextPlain, buf.String())
			} else {
				message.SetBodyString(mail.TypeTextPlain, buf.String())
			}
			rendered = true
		}
	}

	if !rendered {
		return fmt.Errorf("template %q not found", templateName)
	}

	return nil
}

func (s *Service) SendPlain(to []string, subject, body string) error {
	message, err := s.NewMessage()
	if err != nil {
		return err
	}
	if err := message.To(to...); err != nil {
		return fmt.Errorf("failed to set recipients: %w", err)
	}
	message.Subject(subject)
	message.SetBodyString(mail.TypeTextPlain, body)

	return s.Send(message)
}
