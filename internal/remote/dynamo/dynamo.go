// Package dynamo implements remote.Service on a single DynamoDB table.
//
// Every record lives under partition key "owner" (the account) with sort key
// "sk" = "<kind>#<id>". Deletes are hard deletes; a note's actions are
// removed with it.
package dynamo

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	apperrors "github.com/glidenotes/notesync/internal/errors"
	"github.com/glidenotes/notesync/internal/logging"
	"github.com/glidenotes/notesync/internal/models"
	"github.com/glidenotes/notesync/internal/remote"
)

const (
	queryLimit = 500

	attrOwner = "owner"
	attrKey   = "sk"
)

// API is the subset of *dynamodb.Client the service uses.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

var _ API = (*dynamodb.Client)(nil)

// Config selects the table and account.
type Config struct {
	Table    string
	Region   string
	Endpoint string
	Owner    string
}

// Service is a DynamoDB-backed remote.Service.
type Service struct {
	api   API
	table string
	owner string
	now   func() time.Time
	log   *logging.Logger
}

var _ remote.Service = (*Service)(nil)

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source used for server timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.log = l }
}

// New loads the default AWS configuration and connects to cfg.Table.
func New(ctx context.Context, cfg Config, opts ...Option) (*Service, error) {
	if cfg.Table == "" {
		return nil, apperrors.New(apperrors.ErrInvalid, "dynamodb table is required")
	}
	httpClient := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 10,
		},
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithHTTPClient(httpClient)}
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("error loading AWS config: %w", err)
	}
	if cfg.Endpoint != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return NewWithAPI(dynamodb.NewFromConfig(awsCfg), cfg.Table, cfg.Owner, opts...), nil
}

// NewWithAPI builds a Service over an existing client.
func NewWithAPI(api API, table, owner string, opts ...Option) *Service {
	s := &Service{api: api, table: table, owner: owner, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logging.Get()
	}
	s.log = s.log.With(map[string]interface{}{"component": "dynamo_remote", "table": table})
	return s
}

// item wraps a record with its table keys.
type item[T any] struct {
	Owner  string `dynamodbav:"owner"`
	Key    string `dynamodbav:"sk"`
	Record T      `dynamodbav:"record"`
}

func sortKey(t models.EntityType, id string) string {
	return string(t) + "#" + id
}

func (s *Service) key(t models.EntityType, id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrOwner: &types.AttributeValueMemberS{Value: s.owner},
		attrKey:   &types.AttributeValueMemberS{Value: sortKey(t, id)},
	}
}

// stamp returns a server timestamp strictly after prev.
func (s *Service) stamp(prev int64) int64 {
	ts := s.now().UnixMilli()
	if ts <= prev {
		ts = prev + 1
	}
	return ts
}

func get[T any](ctx context.Context, s *Service, t models.EntityType, id string) (*T, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.key(t, id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, s.classify(ctx, "get "+string(t), err)
	}
	if out.Item == nil {
		return nil, remote.NotFound(t, id)
	}
	var it item[T]
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrServer, "decode "+string(t), err)
	}
	return &it.Record, nil
}

// put writes rec. With prevVersion 0 the key must not exist yet; otherwise
// the stored version must still equal prevVersion.
func put[T any](ctx context.Context, s *Service, t models.EntityType, id string, rec T, prevVersion int64) error {
	av, err := attributevalue.MarshalMap(item[T]{Owner: s.owner, Key: sortKey(t, id), Record: rec})
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "encode "+string(t), err)
	}
	in := &dynamodb.PutItemInput{TableName: aws.String(s.table), Item: av}
	if prevVersion == 0 {
		in.ConditionExpression = aws.String("attribute_not_exists(sk)")
	} else {
		in.ConditionExpression = aws.String("record.updated_at = :prev")
		in.ExpressionAttributeValues = map[string]types.AttributeValue{
			":prev": &types.AttributeValueMemberN{Value: strconv.FormatInt(prevVersion, 10)},
		}
	}
	_, err = s.api.PutItem(ctx, in)
	var ccf *types.ConditionalCheckFailedException
	if stderrors.As(err, &ccf) {
		return apperrors.Newf(apperrors.ErrServer, "concurrent write to %s %s", t, id)
	}
	if err != nil {
		return s.classify(ctx, "put "+string(t), err)
	}
	return nil
}

func (s *Service) remove(ctx context.Context, t models.EntityType, id string) error {
	_, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.table),
		Key:                 s.key(t, id),
		ConditionExpression: aws.String("attribute_exists(sk)"),
	})
	var ccf *types.ConditionalCheckFailedException
	if stderrors.As(err, &ccf) {
		return remote.NotFound(t, id)
	}
	if err != nil {
		return s.classify(ctx, "delete "+string(t), err)
	}
	return nil
}

// list reads every record of kind t, following LastEvaluatedKey.
func list[T any](ctx context.Context, s *Service, t models.EntityType) ([]*T, error) {
	var out []*T
	var lastKey map[string]types.AttributeValue
	for {
		page, err := s.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.table),
			KeyConditionExpression: aws.String("#owner = :owner AND begins_with(sk, :prefix)"),
			ExpressionAttributeNames: map[string]string{
				"#owner": attrOwner,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":owner":  &types.AttributeValueMemberS{Value: s.owner},
				":prefix": &types.AttributeValueMemberS{Value: string(t) + "#"},
			},
			ExclusiveStartKey: lastKey,
			Limit:             aws.Int32(queryLimit),
		})
		if err != nil {
			return nil, s.classify(ctx, "query "+string(t), err)
		}
		var items []item[T]
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrServer, "decode "+string(t), err)
		}
		for i := range items {
			out = append(out, &items[i].Record)
		}
		if page.LastEvaluatedKey == nil {
			return out, nil
		}
		lastKey = page.LastEvaluatedKey
	}
}

// classify maps SDK failures onto the remote error taxonomy.
func (s *Service) classify(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return apperrors.Wrap(apperrors.ErrNetwork, op, err)
	}
	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case strings.Contains(code, "Throttl"), code == "ProvisionedThroughputExceededException",
			code == "RequestLimitExceeded":
			return apperrors.Wrap(apperrors.ErrNetwork, op, err)
		case code == "ResourceNotFoundException":
			return apperrors.Wrap(apperrors.ErrServer, op+": table missing", err)
		case apiErr.ErrorFault() == smithy.FaultClient:
			return apperrors.Wrap(apperrors.ErrValidation, op, err)
		}
		return apperrors.Wrap(apperrors.ErrServer, op, err)
	}
	s.log.Warn("DynamoDB request failed", map[string]interface{}{"op": op, "error": err.Error()})
	return apperrors.Wrap(apperrors.ErrNetwork, op, err)
}

func newID() string { return uuid.NewString() }

// CreateNote implements remote.Service.
func (s *Service) CreateNote(ctx context.Context, in models.NotePatch) (*remote.Note, error) {
	if err := remote.CheckNote(in); err != nil {
		return nil, err
	}
	if err := s.checkFolderRef(ctx, in.FolderID); err != nil {
		return nil, err
	}
	ts := s.stamp(0)
	n := &remote.Note{ID: newID(), CreatedAt: ts, UpdatedAt: ts}
	remote.ApplyNotePatch(n, in)
	if err := put(ctx, s, models.EntityNote, n.ID, *n, 0); err != nil {
		return nil, err
	}
	return n, nil
}

// UpdateNote implements remote.Service.
func (s *Service) UpdateNote(ctx context.Context, id string, in models.NotePatch) (*remote.Note, error) {
	if err := remote.CheckNote(in); err != nil {
		return nil, err
	}
	if err := s.checkFolderRef(ctx, in.FolderID); err != nil {
		return nil, err
	}
	n, err := get[remote.Note](ctx, s, models.EntityNote, id)
	if err != nil {
		return nil, err
	}
	prev := n.UpdatedAt
	remote.ApplyNotePatch(n, in)
	n.UpdatedAt = s.stamp(prev)
	if err := put(ctx, s, models.EntityNote, id, *n, prev); err != nil {
		return nil, err
	}
	return s.withActions(ctx, n)
}

func (s *Service) checkFolderRef(ctx context.Context, folderID *string) error {
	if folderID == nil || *folderID == "" {
		return nil
	}
	_, err := get[remote.Folder](ctx, s, models.EntityFolder, *folderID)
	if remote.IsNotFound(err) {
		return remote.Invalid("folder %s does not exist", *folderID)
	}
	return err
}

// DeleteNote implements remote.Service.
func (s *Service) DeleteNote(ctx context.Context, id string) error {
	if err := s.remove(ctx, models.EntityNote, id); err != nil {
		return err
	}
	actions, err := list[remote.Action](ctx, s, models.EntityAction)
	if err != nil {
		return err
	}
	for _, a := range actions {
		if a.NoteID != id {
			continue
		}
		if err := s.remove(ctx, models.EntityAction, a.ID); err != nil && !remote.IsNotFound(err) {
			return err
		}
	}
	return nil
}

// GetNote implements remote.Service.
func (s *Service) GetNote(ctx context.Context, id string) (*remote.Note, error) {
	n, err := get[remote.Note](ctx, s, models.EntityNote, id)
	if err != nil {
		return nil, err
	}
	return s.withActions(ctx, n)
}

func (s *Service) withActions(ctx context.Context, n *remote.Note) (*remote.Note, error) {
	actions, err := list[remote.Action](ctx, s, models.EntityAction)
	if err != nil {
		return nil, err
	}
	n.Actions = nil
	for _, a := range actions {
		if a.NoteID == n.ID {
			n.Actions = append(n.Actions, a)
		}
	}
	sortActions(n.Actions)
	return n, nil
}

// ListNotes implements remote.Service. DynamoDB has no offset paging, so
// the account's notes are read in full and sliced.
func (s *Service) ListNotes(ctx context.Context, page, perPage int) (*remote.NotePage, error) {
	page, perPage = remote.NormalizePage(page, perPage)
	notes, err := list[remote.Note](ctx, s, models.EntityNote)
	if err != nil {
		return nil, err
	}
	actions, err := list[remote.Action](ctx, s, models.EntityAction)
	if err != nil {
		return nil, err
	}

	sort.Slice(notes, func(i, j int) bool {
		a, b := notes[i], notes[j]
		if a.IsPinned != b.IsPinned {
			return a.IsPinned
		}
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt > b.CreatedAt
		}
		return a.ID < b.ID
	})

	out := &remote.NotePage{Total: len(notes), Page: page, PerPage: perPage, Pages: remote.Pages(len(notes), perPage)}
	start := (page - 1) * perPage
	if start >= len(notes) {
		return out, nil
	}
	out.Items = notes[start:min(start+perPage, len(notes))]

	byNote := make(map[string]*remote.Note, len(out.Items))
	for _, n := range out.Items {
		byNote[n.ID] = n
	}
	for _, a := range actions {
		if n, ok := byNote[a.NoteID]; ok {
			n.Actions = append(n.Actions, a)
		}
	}
	for _, n := range out.Items {
		sortActions(n.Actions)
	}
	return out, nil
}

func sortActions(actions []*remote.Action) {
	sort.Slice(actions, func(i, j int) bool {
		if actions[i].CreatedAt != actions[j].CreatedAt {
			return actions[i].CreatedAt < actions[j].CreatedAt
		}
		return actions[i].ID < actions[j].ID
	})
}

// CreateFolder implements remote.Service.
func (s *Service) CreateFolder(ctx context.Context, in models.FolderPatch) (*remote.Folder, error) {
	if err := remote.CheckFolder(in, true); err != nil {
		return nil, err
	}
	if err := s.checkParent(ctx, "", in.ParentID); err != nil {
		return nil, err
	}
	ts := s.stamp(0)
	f := &remote.Folder{ID: newID(), Icon: "folder", CreatedAt: ts, UpdatedAt: ts}
	remote.ApplyFolderPatch(f, in)
	if err := put(ctx, s, models.EntityFolder, f.ID, *f, 0); err != nil {
		return nil, err
	}
	return f, nil
}

// UpdateFolder implements remote.Service.
func (s *Service) UpdateFolder(ctx context.Context, id string, in models.FolderPatch) (*remote.Folder, error) {
	if err := remote.CheckFolder(in, false); err != nil {
		return nil, err
	}
	f, err := get[remote.Folder](ctx, s, models.EntityFolder, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkParent(ctx, id, in.ParentID); err != nil {
		return nil, err
	}
	prev := f.UpdatedAt
	remote.ApplyFolderPatch(f, in)
	f.UpdatedAt = s.stamp(prev)
	if err := put(ctx, s, models.EntityFolder, id, *f, prev); err != nil {
		return nil, err
	}
	return f, nil
}

// checkParent rejects a missing parent or one that would create a cycle.
func (s *Service) checkParent(ctx context.Context, id string, parentID *string) error {
	if parentID == nil || *parentID == "" {
		return nil
	}
	folders, err := list[remote.Folder](ctx, s, models.EntityFolder)
	if err != nil {
		return err
	}
	byID := make(map[string]*remote.Folder, len(folders))
	for _, f := range folders {
		byID[f.ID] = f
	}
	for cur, hops := *parentID, 0; cur != ""; hops++ {
		if cur == id || hops > len(folders) {
			return remote.Invalid("folder cannot be its own ancestor")
		}
		p, ok := byID[cur]
		if !ok {
			return remote.Invalid("parent folder %s does not exist", cur)
		}
		cur = p.ParentID
	}
	return nil
}

// DeleteFolder implements remote.Service. System folders cannot be deleted.
// Notes in the folder are unassigned and child folders move to the root.
func (s *Service) DeleteFolder(ctx context.Context, id string) error {
	f, err := get[remote.Folder](ctx, s, models.EntityFolder, id)
	if err != nil {
		return err
	}
	if f.IsSystem {
		return remote.Invalid("cannot delete system folders")
	}
	if err := s.remove(ctx, models.EntityFolder, id); err != nil {
		return err
	}

	notes, err := list[remote.Note](ctx, s, models.EntityNote)
	if err != nil {
		return err
	}
	for _, n := range notes {
		if n.FolderID != id {
			continue
		}
		prev := n.UpdatedAt
		n.FolderID = ""
		n.UpdatedAt = s.stamp(prev)
		if err := put(ctx, s, models.EntityNote, n.ID, *n, prev); err != nil {
			return err
		}
	}

	folders, err := list[remote.Folder](ctx, s, models.EntityFolder)
	if err != nil {
		return err
	}
	for _, c := range folders {
		if c.ParentID != id {
			continue
		}
		prev := c.UpdatedAt
		c.ParentID = ""
		c.UpdatedAt = s.stamp(prev)
		if err := put(ctx, s, models.EntityFolder, c.ID, *c, prev); err != nil {
			return err
		}
	}
	return nil
}

// ListFolders implements remote.Service.
func (s *Service) ListFolders(ctx context.Context) ([]*remote.Folder, error) {
	flat, err := list[remote.Folder](ctx, s, models.EntityFolder)
	if err != nil {
		return nil, err
	}
	sort.Slice(flat, func(i, j int) bool {
		if flat[i].SortOrder != flat[j].SortOrder {
			return flat[i].SortOrder < flat[j].SortOrder
		}
		if flat[i].Name != flat[j].Name {
			return flat[i].Name < flat[j].Name
		}
		return flat[i].ID < flat[j].ID
	})
	return remote.BuildTree(flat), nil
}

// SetupDefaults creates the "All Notes" system folder if it is missing.
func (s *Service) SetupDefaults(ctx context.Context) (*remote.Folder, error) {
	folders, err := list[remote.Folder](ctx, s, models.EntityFolder)
	if err != nil {
		return nil, err
	}
	for _, f := range folders {
		if f.IsSystem && f.Name == models.SystemFolderName {
			return f, nil
		}
	}
	ts := s.stamp(0)
	f := &remote.Folder{ID: newID(), Name: models.SystemFolderName, Icon: "folder", IsSystem: true, CreatedAt: ts, UpdatedAt: ts}
	if err := put(ctx, s, models.EntityFolder, f.ID, *f, 0); err != nil {
		return nil, err
	}
	return f, nil
}

// CreateAction implements remote.Service.
func (s *Service) CreateAction(ctx context.Context, noteID string, in models.ActionPatch) (*remote.Action, error) {
	if _, err := get[remote.Note](ctx, s, models.EntityNote, noteID); err != nil {
		return nil, err
	}
	if err := remote.CheckAction(in, true); err != nil {
		return nil, err
	}
	ts := s.stamp(0)
	a := &remote.Action{
		ID:         newID(),
		NoteID:     noteID,
		ActionType: models.ActionNextStep,
		Status:     models.ActionStatusPending,
		Priority:   models.ActionPriorityMedium,
		CreatedAt:  ts,
		UpdatedAt:  ts,
	}
	remote.ApplyActionPatch(a, in)
	if err := put(ctx, s, models.EntityAction, a.ID, *a, 0); err != nil {
		return nil, err
	}
	return a, nil
}

// UpdateAction implements remote.Service.
func (s *Service) UpdateAction(ctx context.Context, id string, in models.ActionPatch) (*remote.Action, error) {
	if err := remote.CheckAction(in, false); err != nil {
		return nil, err
	}
	a, err := get[remote.Action](ctx, s, models.EntityAction, id)
	if err != nil {
		return nil, err
	}
	prev := a.UpdatedAt
	remote.ApplyActionPatch(a, in)
	a.UpdatedAt = s.stamp(prev)
	if err := put(ctx, s, models.EntityAction, id, *a, prev); err != nil {
		return nil, err
	}
	return a, nil
}

// DeleteAction implements remote.Service.
func (s *Service) DeleteAction(ctx context.Context, id string) error {
	return s.remove(ctx, models.EntityAction, id)
}
