package mcp

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"outlook_mcp_server/adapter/out/storage"
	"outlook_mcp_server/config"
	"outlook_mcp_server/core/domain"
	"outlook_mcp_server/core/port/out"
	"outlook_mcp_server/core/service/attachment"
	"outlook_mcp_server/core/service/auth"
	"outlook_mcp_server/core/service/convert"
	"outlook_mcp_server/core/service/session"
	"outlook_mcp_server/pkg/apperr"
	"outlook_mcp_server/pkg/logger"
)

// Dispatcher resolves a tool call to a service method: normalize and
// validate arguments, merge factors, resolve the user's session, invoke.
type Dispatcher struct {
	catalog    *Catalog
	cfg        *config.Config
	auth       *auth.Service
	sessions   *session.Manager
	converter  *convert.Service
	meta       *attachment.MetadataManager
	localStore out.StorageBackend
	httpClient *http.Client
	log        zerolog.Logger
}

func NewDispatcher(catalog *Catalog, cfg *config.Config, authSvc *auth.Service, sessions *session.Manager) *Dispatcher {
	return &Dispatcher{
		catalog:    catalog,
		cfg:        cfg,
		auth:       authSvc,
		sessions:   sessions,
		converter:  convert.NewService(cfg.ConvertTokenLimit),
		meta:       attachment.NewMetadataManager(cfg.StorageBaseDir),
		localStore: storage.NewLocalBackend(cfg.StorageBaseDir),
		httpClient: &http.Client{Timeout: cfg.GraphTimeout},
		log:        logger.Component("dispatcher"),
	}
}

// Catalog returns the loaded tool catalog.
func (d *Dispatcher) Catalog() *Catalog {
	return d.catalog
}

// Dispatch runs one tool call end to end.
func (d *Dispatcher) Dispatch(ctx context.Context, toolName string, rawArgs map[string]any) (any, error) {
	tool := d.catalog.Tool(toolName)
	if tool == nil {
		return nil, apperr.New(apperr.CodeToolNotFound, "unknown tool: "+toolName)
	}

	args := NormalizeBoolArgs(tool.InputSchema, rawArgs)
	if err := ValidateArgs(tool.InputSchema, args); err != nil {
		return nil, err
	}
	merged, err := MergeFactors(tool, args)
	if err != nil {
		return nil, err
	}

	result, err := d.invoke(ctx, tool.Service.Name, merged)
	if err != nil {
		return nil, d.wrapTokenError(merged, err)
	}
	return result, nil
}

// wrapTokenError converts invalid_grant / unauthorized / 401 failures into
// an authentication-required error, invalidating the user's session so the
// next call rebuilds it after re-auth.
func (d *Dispatcher) wrapTokenError(args map[string]any, err error) error {
	if !apperr.IsAuthError(err) {
		return err
	}
	email := apperr.UserEmail(err)
	if email == "" {
		email = argString(args, "user_email")
	}
	if email != "" {
		d.sessions.Invalidate(email)
	}
	d.log.Warn().Str("user_email", email).Err(err).Msg("token rejected, session invalidated")

	if appErr := apperr.AsAppError(err); appErr != nil && appErr.Code == apperr.CodeAuthRequired {
		if email != "" && appErr.Details["user_email"] == nil {
			appErr.WithDetail("user_email", email)
		}
		return appErr
	}
	return apperr.AuthRequired(email, err.Error())
}

func (d *Dispatcher) invoke(ctx context.Context, service string, args map[string]any) (any, error) {
	switch service {
	case "start_auth_flow":
		return d.auth.StartAuthFlow(argBool(args, "force_new")), nil

	case "complete_auth_flow":
		return d.auth.CompleteAuthFlow(ctx, argString(args, "code"), argString(args, "state"))

	case "list_authenticated_users":
		users, err := d.auth.ListUsers(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"users": users, "count": len(users)}, nil

	case "logout":
		email := argString(args, "user_email")
		if err := d.auth.Logout(ctx, email); err != nil {
			return nil, err
		}
		d.sessions.Invalidate(email)
		return map[string]any{"status": "logged_out", "user_email": email}, nil

	case "query_filter":
		return d.queryFilter(ctx, args)

	case "query_search":
		return d.querySearch(ctx, args)

	case "query_url":
		return d.queryURL(ctx, args)

	case "batch_fetch_by_ids":
		return d.batchFetch(ctx, args)

	case "get_mail":
		return d.getMail(ctx, args)

	case "send_mail":
		return d.sendMail(ctx, args)

	case "attachment_info":
		return d.attachmentInfo(ctx, args)

	case "fetch_attachments":
		return d.fetchAttachments(ctx, args)

	case "attachment_content":
		return d.attachmentContent(ctx, args)
	}
	return nil, apperr.New(apperr.CodeToolNotFound, "unknown service method: "+service)
}

func (d *Dispatcher) resolveSession(ctx context.Context, args map[string]any) (*session.Session, error) {
	email := argString(args, "user_email")
	if email == "" {
		return nil, apperr.ValidationFailed("user_email is required")
	}
	return d.sessions.GetOrCreate(ctx, email)
}

func (d *Dispatcher) queryFilter(ctx context.Context, args map[string]any) (any, error) {
	sess, err := d.resolveSession(ctx, args)
	if err != nil {
		return nil, err
	}
	filter, err := argFilter(args, "filter")
	if err != nil {
		return nil, err
	}
	exclude, err := argExclude(args, "exclude")
	if err != nil {
		return nil, err
	}
	sel, err := argSelect(args, "select")
	if err != nil {
		return nil, err
	}
	return sess.Query().QueryFilter(ctx, filter, exclude, sel, argString(args, "orderby"), argInt(args, "top")), nil
}

func (d *Dispatcher) querySearch(ctx context.Context, args map[string]any) (any, error) {
	sess, err := d.resolveSession(ctx, args)
	if err != nil {
		return nil, err
	}
	exclude, err := argExclude(args, "client_filter")
	if err != nil {
		return nil, err
	}
	sel, err := argSelect(args, "select")
	if err != nil {
		return nil, err
	}
	return sess.Query().QuerySearch(ctx, argString(args, "search"), exclude, sel, argInt(args, "top")), nil
}

func (d *Dispatcher) queryURL(ctx context.Context, args map[string]any) (any, error) {
	sess, err := d.resolveSession(ctx, args)
	if err != nil {
		return nil, err
	}
	exclude, err := argExclude(args, "client_filter")
	if err != nil {
		return nil, err
	}
	return sess.Query().QueryURL(ctx, argString(args, "url"), exclude, argInt(args, "top")), nil
}

func (d *Dispatcher) batchFetch(ctx context.Context, args map[string]any) (any, error) {
	sess, err := d.resolveSession(ctx, args)
	if err != nil {
		return nil, err
	}
	ids, err := argStrings(args, "message_ids")
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, apperr.ValidationFailed("message_ids must not be empty")
	}
	sel, err := argSelect(args, "select")
	if err != nil {
		return nil, err
	}
	return sess.Query().BatchFetchByIDs(ctx, ids, sel, ""), nil
}

func (d *Dispatcher) getMail(ctx context.Context, args map[string]any) (any, error) {
	sess, err := d.resolveSession(ctx, args)
	if err != nil {
		return nil, err
	}
	sel, err := argSelect(args, "select")
	if err != nil {
		return nil, err
	}
	expand := ""
	if argBool(args, "include_attachments") {
		expand = "attachments"
	}
	return sess.Mail().GetMessage(ctx, argString(args, "message_id"), sel, expand)
}

func (d *Dispatcher) sendMail(ctx context.Context, args map[string]any) (any, error) {
	sess, err := d.resolveSession(ctx, args)
	if err != nil {
		return nil, err
	}
	to, err := argStrings(args, "to_recipients")
	if err != nil {
		return nil, err
	}
	cc, err := argStrings(args, "cc_recipients")
	if err != nil {
		return nil, err
	}
	bcc, err := argStrings(args, "bcc_recipients")
	if err != nil {
		return nil, err
	}
	req := &domain.SendRequest{
		Subject:  argString(args, "subject"),
		Body:     argString(args, "body"),
		BodyType: argString(args, "body_type"),
		To:       to,
		Cc:       cc,
		Bcc:      bcc,
	}
	if err := sess.Mail().SendMail(ctx, req); err != nil {
		return nil, err
	}
	return map[string]any{"status": "sent", "subject": req.Subject, "recipients": len(to) + len(cc) + len(bcc)}, nil
}

func (d *Dispatcher) attachmentInfo(ctx context.Context, args map[string]any) (any, error) {
	sess, err := d.resolveSession(ctx, args)
	if err != nil {
		return nil, err
	}
	ids, err := argStrings(args, "message_ids")
	if err != nil {
		return nil, err
	}
	infos, errs, err := d.pipeline(sess).GetAttachmentInfo(ctx, ids)
	if err != nil {
		return nil, err
	}
	return map[string]any{"value": infos, "errors": errs, "total": len(infos)}, nil
}

func (d *Dispatcher) fetchAttachments(ctx context.Context, args map[string]any) (any, error) {
	sess, err := d.resolveSession(ctx, args)
	if err != nil {
		return nil, err
	}
	ids, err := argStrings(args, "message_ids")
	if err != nil {
		return nil, err
	}
	opts := attachment.Options{
		MessageIDs:     ids,
		SkipDuplicates: argBool(args, "skip_duplicates"),
		IncludeBody:    argBool(args, "include_body"),
		ConvertToText:  argBool(args, "convert_to_text"),
		TokenLimit:     argInt(args, "token_limit"),
		FlatFolder:     argString(args, "folder"),
	}
	return d.pipeline(sess).FetchAndSave(ctx, opts)
}

func (d *Dispatcher) attachmentContent(ctx context.Context, args map[string]any) (any, error) {
	sess, err := d.resolveSession(ctx, args)
	if err != nil {
		return nil, err
	}
	return d.pipeline(sess).FetchInline(ctx,
		argString(args, "message_id"),
		argString(args, "attachment_id"),
		argBool(args, "convert_to_text"),
		argInt(args, "token_limit"),
	)
}

// pipeline assembles the attachment pipeline for one call. The storage
// backend is either the shared local backend or a OneDrive backend bound to
// the session's token.
func (d *Dispatcher) pipeline(sess *session.Session) *attachment.Pipeline {
	store := d.localStore
	if d.cfg.StorageBackend == "onedrive" {
		store = storage.NewOneDriveBackend(d.httpClient, sess.Email, sess.AccessToken, d.cfg.OneDriveRootPath)
	}
	return attachment.NewPipeline(sess.Mail(), store, d.converter, d.meta)
}
