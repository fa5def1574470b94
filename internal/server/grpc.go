package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lucianodigital2b/clevernote-sub002/internal/common"
	"github.com/lucianodigital2b/clevernote-sub002/internal/entity"
	"github.com/lucianodigital2b/clevernote-sub002/internal/ingest"
)

const ServiceName = "clevernote.v1.NoteService"

const (
	maxTextChars  = 500_000
	maxTitleChars = 255
)

// NoteServiceServer is the gRPC contract. Requests and responses are free-form
// structs so clients need no generated stubs.
type NoteServiceServer interface {
	IngestText(context.Context, *structpb.Struct) (*structpb.Struct, error)
	IngestLink(context.Context, *structpb.Struct) (*structpb.Struct, error)
	IngestFile(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetNote(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GenerateArtifact(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetArtifact(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListArtifacts(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RetryNote(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RetryArtifact(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(NoteServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(NoteServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(NoteServiceServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

var NoteServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*NoteServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("IngestText", NoteServiceServer.IngestText),
		unary("IngestLink", NoteServiceServer.IngestLink),
		unary("IngestFile", NoteServiceServer.IngestFile),
		unary("GetNote", NoteServiceServer.GetNote),
		unary("GenerateArtifact", NoteServiceServer.GenerateArtifact),
		unary("GetArtifact", NoteServiceServer.GetArtifact),
		unary("ListArtifacts", NoteServiceServer.ListArtifacts),
		unary("RetryNote", NoteServiceServer.RetryNote),
		unary("RetryArtifact", NoteServiceServer.RetryArtifact),
	},
	Streams: []grpc.StreamDesc{},
}

// Register installs the note service and the standard health service on s.
func Register(s *grpc.Server, impl NoteServiceServer) *health.Server {
	s.RegisterService(&NoteServiceDesc, impl)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return hs
}

// GRPCServer adapts NoteService to NoteServiceServer.
type GRPCServer struct {
	svc    *NoteService
	logger *slog.Logger
}

func NewGRPCServer(svc *NoteService, logger *slog.Logger) *GRPCServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &GRPCServer{svc: svc, logger: logger}
}

type ingestRequest struct {
	Text     string `json:"text"`
	URL      string `json:"url"`
	Language string `json:"language"`
	Title    string `json:"title"`
}

func (r ingestRequest) options() ingest.Options {
	return ingest.Options{Language: r.Language, Title: r.Title}
}

type idRequest struct {
	ID string `json:"id"`
}

type generateRequest struct {
	NoteID  string                 `json:"note_id"`
	Kind    string                 `json:"kind"`
	Options entity.GenerateOptions `json:"options"`
}

func (g *GRPCServer) IngestText(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ingestRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	err := common.NewValidator().
		Field("text", req.Text, common.Required, common.MaxLength(maxTextChars)).
		Field("title", req.Title, common.MaxLength(maxTitleChars)).
		Err()
	if err != nil {
		return nil, err
	}
	n, err := g.svc.IngestText(ctx, req.Text, req.options())
	if err != nil {
		return nil, err
	}
	return toStruct(IngestResult{Note: n})
}

func (g *GRPCServer) IngestLink(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ingestRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	n, err := g.svc.IngestLink(ctx, req.URL, req.options())
	if err != nil {
		return nil, err
	}
	return toStruct(IngestResult{Note: n})
}

func (g *GRPCServer) IngestFile(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req IngestFileRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	r, err := g.svc.IngestFile(ctx, req)
	if err != nil {
		return nil, err
	}
	return toStruct(r)
}

func (g *GRPCServer) GetNote(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := idField(in)
	if err != nil {
		return nil, err
	}
	n, err := g.svc.GetNote(ctx, id)
	if err != nil {
		return nil, err
	}
	return toStruct(n)
}

func (g *GRPCServer) GenerateArtifact(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req generateRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	err := common.NewValidator().
		Field("note_id", req.NoteID, common.Required, common.UUID).
		Field("kind", req.Kind, common.Required).
		Field("options.count", req.Options.Count, common.IntRange(1, 100)).
		Field("options.difficulty", req.Options.Difficulty, common.OneOf("easy", "medium", "hard")).
		Err()
	if err != nil {
		return nil, err
	}
	a, err := g.svc.GenerateArtifact(ctx, uuid.MustParse(strings.TrimSpace(req.NoteID)), req.Kind, req.Options)
	if err != nil {
		return nil, err
	}
	return toStruct(a)
}

func (g *GRPCServer) GetArtifact(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := idField(in)
	if err != nil {
		return nil, err
	}
	a, err := g.svc.GetArtifact(ctx, id)
	if err != nil {
		return nil, err
	}
	return toStruct(a)
}

func (g *GRPCServer) ListArtifacts(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req struct {
		NoteID string `json:"note_id"`
	}
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	noteID, err := parseID("note_id", req.NoteID)
	if err != nil {
		return nil, err
	}
	list, err := g.svc.ListArtifacts(ctx, noteID)
	if err != nil {
		return nil, err
	}
	return toStruct(map[string]any{"artifacts": list})
}

func (g *GRPCServer) RetryNote(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := idField(in)
	if err != nil {
		return nil, err
	}
	n, err := g.svc.RetryNote(ctx, id)
	if err != nil {
		return nil, err
	}
	return toStruct(n)
}

func (g *GRPCServer) RetryArtifact(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := idField(in)
	if err != nil {
		return nil, err
	}
	a, err := g.svc.RetryArtifact(ctx, id)
	if err != nil {
		return nil, err
	}
	return toStruct(a)
}

// UnaryInterceptor attaches a request id and logger to the context, logs the
// call and maps domain errors onto status codes.
func UnaryInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		rid := requestIDFromMetadata(ctx)
		log := logger.With("request_id", rid, "method", info.FullMethod)
		ctx = common.WithLogger(common.WithRequestID(ctx, rid), log)

		resp, err := handler(ctx, req)
		if err != nil {
			err = common.ToStatus(err)
			log.Warn("grpc.request.failed", "code", status.Code(err).String(), "err", err, "duration_ms", time.Since(start).Milliseconds())
			return nil, err
		}
		log.Info("grpc.request", "duration_ms", time.Since(start).Milliseconds())
		return resp, nil
	}
}

func requestIDFromMetadata(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get("x-request-id"); len(v) > 0 && strings.TrimSpace(v[0]) != "" {
			return strings.TrimSpace(v[0])
		}
	}
	return uuid.NewString()
}

func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return out, nil
}

func fromStruct(in *structpb.Struct, v any) error {
	b, err := protojson.Marshal(in)
	if err != nil {
		return fmt.Errorf("decode request: %v: %w", err, common.ErrInvalidInput)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode request: %v: %w", err, common.ErrInvalidInput)
	}
	return nil
}

func idField(in *structpb.Struct) (uuid.UUID, error) {
	var req idRequest
	if err := fromStruct(in, &req); err != nil {
		return uuid.Nil, err
	}
	return parseID("id", req.ID)
}

func parseID(field, s string) (uuid.UUID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return uuid.Nil, fmt.Errorf("%s is required: %w", field, common.ErrInvalidInput)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s must be a UUID: %w", field, common.ErrInvalidInput)
	}
	return id, nil
}
