// Package grpcadapter implements the protocol adapter for gRPC backends:
// discovery walks the target's Reflection service to list services, load
// file descriptors transitively, and enumerate methods; invocation
// round-trips a dynamic unary call over a google.golang.org/grpc
// ClientConn.
package grpcadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/reflection/grpc_reflection_v1alpha"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/apathy-ca/sark/internal/adapter"
)

// Adapter discovers and invokes gRPC services via server reflection.
type Adapter struct {
	mu    sync.RWMutex
	conns map[string]*grpc.ClientConn // target address -> shared conn
	files map[string]protoreflect.FileDescriptor
	methods map[string]methodInfo // capability name -> resolved method
}

type methodInfo struct {
	target     string
	fullMethod string
	input      protoreflect.MessageDescriptor
	output     protoreflect.MessageDescriptor
}

// New constructs an empty Adapter. Connections are opened lazily per
// target address the first time it is discovered or invoked.
func New() *Adapter {
	return &Adapter{
		conns:   make(map[string]*grpc.ClientConn),
		files:   make(map[string]protoreflect.FileDescriptor),
		methods: make(map[string]methodInfo),
	}
}

func (a *Adapter) ProtocolName() string    { return "grpc" }
func (a *Adapter) ProtocolVersion() string { return "reflection-v1alpha" }

func (a *Adapter) connFor(ctx context.Context, target string) (*grpc.ClientConn, error) {
	a.mu.RLock()
	conn, ok := a.conns[target]
	a.mu.RUnlock()
	if ok {
		return conn, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if conn, ok := a.conns[target]; ok {
		return conn, nil
	}
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("adapter/grpcadapter: dial %s: %w", target, err)
	}
	a.conns[target] = conn
	return conn, nil
}

// DiscoverResources expects config to carry "target" (host:port). It
// lists services via reflection, pulls each service's file descriptor
// transitively, and returns one ResourceSchema per RPC method.
func (a *Adapter) DiscoverResources(ctx context.Context, config map[string]any) ([]adapter.ResourceSchema, error) {
	target, _ := config["target"].(string)
	if target == "" {
		return nil, fmt.Errorf("adapter/grpcadapter: config missing \"target\"")
	}

	conn, err := a.connFor(ctx, target)
	if err != nil {
		return nil, err
	}

	stub := grpc_reflection_v1alpha.NewServerReflectionClient(conn)
	stream, err := stub.ServerReflectionInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("adapter/grpcadapter: open reflection stream: %w", err)
	}
	defer func() { _ = stream.CloseSend() }()

	if err := stream.Send(&grpc_reflection_v1alpha.ServerReflectionRequest{
		MessageRequest: &grpc_reflection_v1alpha.ServerReflectionRequest_ListServices{},
	}); err != nil {
		return nil, fmt.Errorf("adapter/grpcadapter: list services: %w", err)
	}
	listResp, err := stream.Recv()
	if err != nil {
		return nil, fmt.Errorf("adapter/grpcadapter: list services response: %w", err)
	}
	services := listResp.GetListServicesResponse().GetService()

	var resources []adapter.ResourceSchema
	for _, svc := range services {
		name := svc.GetName()
		if name == "grpc.reflection.v1alpha.ServerReflection" || name == "grpc.reflection.v1.ServerReflection" {
			continue
		}
		fd, err := a.resolveFileDescriptor(stream, name)
		if err != nil {
			return nil, fmt.Errorf("adapter/grpcadapter: resolve %s: %w", name, err)
		}
		svcDesc := fd.Services().ByName(protoreflect.Name(lastSegment(name)))
		if svcDesc == nil {
			continue
		}
		for i := 0; i < svcDesc.Methods().Len(); i++ {
			m := svcDesc.Methods().Get(i)
			capName := name + "/" + string(m.Name())
			a.mu.Lock()
			a.methods[capName] = methodInfo{
				target:     target,
				fullMethod: "/" + name + "/" + string(m.Name()),
				input:      m.Input(),
				output:     m.Output(),
			}
			a.mu.Unlock()

			resources = append(resources, adapter.ResourceSchema{
				Name:            capName,
				Description:     fmt.Sprintf("gRPC method %s on service %s", m.Name(), name),
				SensitivityHint: sensitivityHintForMethodName(string(m.Name())),
				InputSchema:     messageInputSchema(m.Input()),
				Metadata:        map[string]any{"target": target, "streaming_client": m.IsStreamingClient(), "streaming_server": m.IsStreamingServer()},
			})
		}
	}
	return resources, nil
}

// resolveFileDescriptor walks FileContainingSymbol and transitively
// resolves its dependencies into a usable protoreflect.FileDescriptor.
func (a *Adapter) resolveFileDescriptor(stream grpc_reflection_v1alpha.ServerReflection_ServerReflectionInfoClient, symbol string) (protoreflect.FileDescriptor, error) {
	a.mu.RLock()
	if fd, ok := a.files[symbol]; ok {
		a.mu.RUnlock()
		return fd, nil
	}
	a.mu.RUnlock()

	if err := stream.Send(&grpc_reflection_v1alpha.ServerReflectionRequest{
		MessageRequest: &grpc_reflection_v1alpha.ServerReflectionRequest_FileContainingSymbol{FileContainingSymbol: symbol},
	}); err != nil {
		return nil, err
	}
	resp, err := stream.Recv()
	if err != nil {
		return nil, err
	}
	fdResp := resp.GetFileDescriptorResponse()
	if fdResp == nil {
		return nil, fmt.Errorf("unexpected reflection response for %s", symbol)
	}

	files := &protoFileSet{byName: make(map[string]*descriptorpb.FileDescriptorProto)}
	var rootName string // the reflection response lists the file containing symbol first
	for _, raw := range fdResp.GetFileDescriptorProto() {
		fdProto := &descriptorpb.FileDescriptorProto{}
		if err := proto.Unmarshal(raw, fdProto); err != nil {
			return nil, fmt.Errorf("unmarshal file descriptor: %w", err)
		}
		if rootName == "" {
			rootName = fdProto.GetName()
		}
		files.byName[fdProto.GetName()] = fdProto
	}

	var root protoreflect.FileDescriptor
	resolved := make(map[string]protoreflect.FileDescriptor)
	var build func(name string) (protoreflect.FileDescriptor, error)
	build = func(name string) (protoreflect.FileDescriptor, error) {
		if fd, ok := resolved[name]; ok {
			return fd, nil
		}
		fdProto := files.byName[name]
		if fdProto == nil {
			return nil, fmt.Errorf("missing descriptor for dependency %s", name)
		}
		depResolver := &dependencyResolver{parent: build}
		fd, err := protodesc.NewFile(fdProto, depResolver)
		if err != nil {
			return nil, err
		}
		resolved[name] = fd
		return fd, nil
	}

	for name := range files.byName {
		if _, err := build(name); err != nil {
			return nil, err
		}
	}
	root = resolved[rootName]

	a.mu.Lock()
	a.files[symbol] = root
	a.mu.Unlock()
	return root, nil
}

type protoFileSet struct {
	byName map[string]*descriptorpb.FileDescriptorProto
}

// dependencyResolver implements protodesc.Resolver over the in-flight
// build closure so cross-file imports within one reflection response
// resolve without a second round trip.
type dependencyResolver struct {
	parent func(name string) (protoreflect.FileDescriptor, error)
}

func (d *dependencyResolver) FindFileByPath(path string) (protoreflect.FileDescriptor, error) {
	return d.parent(path)
}

func (d *dependencyResolver) FindDescriptorByName(name protoreflect.FullName) (protoreflect.Descriptor, error) {
	return nil, fmt.Errorf("adapter/grpcadapter: cross-file symbol lookup %s unsupported", name)
}

func lastSegment(fullName string) string {
	idx := -1
	for i := len(fullName) - 1; i >= 0; i-- {
		if fullName[i] == '.' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fullName
	}
	return fullName[idx+1:]
}

func sensitivityHintForMethodName(name string) adapter.Sensitivity {
	lower := toLower(name)
	switch {
	case containsAny(lower, "delete", "remove", "destroy"):
		return adapter.SensitivityHigh
	case containsAny(lower, "create", "update", "put", "write"):
		return adapter.SensitivityMedium
	default:
		return adapter.SensitivityLow
	}
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 32
		}
	}
	return string(b)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if indexOf(s, sub) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(s, sub string) int {
	if len(sub) == 0 {
		return 0
	}
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

// messageInputSchema derives a shallow JSON-schema-shaped map from a
// proto message descriptor's fields.
func messageInputSchema(md protoreflect.MessageDescriptor) map[string]any {
	properties := map[string]any{}
	for i := 0; i < md.Fields().Len(); i++ {
		f := md.Fields().Get(i)
		properties[string(f.Name())] = map[string]any{
			"type":     f.Kind().String(),
			"repeated": f.IsList(),
		}
	}
	return map[string]any{"type": "object", "properties": properties}
}

// GetCapabilities maps 1:1 from a discovered ResourceSchema.
func (a *Adapter) GetCapabilities(ctx context.Context, resource adapter.ResourceSchema) ([]adapter.CapabilitySchema, error) {
	return []adapter.CapabilitySchema{{
		Name:        resource.Name,
		Description: resource.Description,
		InputSchema: resource.InputSchema,
		Sensitivity: resource.SensitivityHint,
	}}, nil
}

// ValidateRequest refuses unknown capabilities and parameter sets whose
// JSON encoding exceeds adapter.MaxPayloadBytes. Streaming methods are not
// refused here; Invoke always issues a unary call.
func (a *Adapter) ValidateRequest(ctx context.Context, inv adapter.Invocation) (bool, string) {
	a.mu.RLock()
	_, ok := a.methods[inv.Capability]
	a.mu.RUnlock()
	if !ok {
		return false, "unknown capability"
	}
	body, err := json.Marshal(inv.Parameters)
	if err != nil {
		return false, "parameters not JSON-serializable"
	}
	if len(body) > adapter.MaxPayloadBytes {
		return false, "payload exceeds maximum size"
	}
	return true, ""
}

// Invoke builds a dynamic request message from inv.Parameters, issues a
// unary call, and decodes the dynamic response message back into a map.
func (a *Adapter) Invoke(ctx context.Context, inv adapter.Invocation) (adapter.InvocationResult, error) {
	start := time.Now()
	a.mu.RLock()
	m, ok := a.methods[inv.Capability]
	a.mu.RUnlock()
	if !ok {
		return adapter.InvocationResult{}, fmt.Errorf("adapter/grpcadapter: unknown capability %q (discover first)", inv.Capability)
	}

	conn, err := a.connFor(ctx, m.target)
	if err != nil {
		return adapter.InvocationResult{}, err
	}

	deadline := adapter.EffectiveDeadline(inv)
	callCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	reqMsg := dynamicpb.NewMessage(m.input)
	if err := populateMessage(reqMsg, inv.Parameters); err != nil {
		return adapter.InvocationResult{}, fmt.Errorf("adapter/grpcadapter: populate request: %w", err)
	}
	respMsg := dynamicpb.NewMessage(m.output)

	if err := conn.Invoke(callCtx, m.fullMethod, reqMsg, respMsg); err != nil {
		return adapter.InvocationResult{Success: false, Error: err.Error(), DurationMS: time.Since(start).Milliseconds()}, nil
	}

	return adapter.InvocationResult{
		Success:    true,
		Result:     messageToMap(respMsg),
		DurationMS: time.Since(start).Milliseconds(),
	}, nil
}

func populateMessage(msg *dynamicpb.Message, params map[string]any) error {
	fields := msg.Descriptor().Fields()
	for k, v := range params {
		fd := fields.ByName(protoreflect.Name(k))
		if fd == nil {
			continue // unknown field: ignored rather than rejected, mirrors proto's forward-compat stance
		}
		val, err := toProtoValue(fd, v)
		if err != nil {
			return err
		}
		msg.Set(fd, val)
	}
	return nil
}

func toProtoValue(fd protoreflect.FieldDescriptor, v any) (protoreflect.Value, error) {
	switch fd.Kind() {
	case protoreflect.StringKind:
		s, _ := v.(string)
		return protoreflect.ValueOfString(s), nil
	case protoreflect.BoolKind:
		b, _ := v.(bool)
		return protoreflect.ValueOfBool(b), nil
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		f, _ := v.(float64)
		return protoreflect.ValueOfInt32(int32(f)), nil
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		f, _ := v.(float64)
		return protoreflect.ValueOfInt64(int64(f)), nil
	case protoreflect.DoubleKind, protoreflect.FloatKind:
		f, _ := v.(float64)
		return protoreflect.ValueOfFloat64(f), nil
	default:
		return protoreflect.Value{}, fmt.Errorf("adapter/grpcadapter: unsupported field kind %s for %s", fd.Kind(), fd.Name())
	}
}

func messageToMap(msg *dynamicpb.Message) map[string]any {
	out := map[string]any{}
	msg.Range(func(fd protoreflect.FieldDescriptor, v protoreflect.Value) bool {
		out[string(fd.Name())] = v.Interface()
		return true
	})
	return out
}

// HealthCheck dials the resource's target and checks the connection
// reaches a ready-ish state within the call context.
func (a *Adapter) HealthCheck(ctx context.Context, resource adapter.ResourceSchema) bool {
	target, _ := resource.Metadata["target"].(string)
	if target == "" {
		return false
	}
	conn, err := a.connFor(ctx, target)
	if err != nil {
		return false
	}
	state := conn.GetState()
	return state.String() != "SHUTDOWN" && state.String() != "TRANSIENT_FAILURE"
}

// Close tears down every pooled connection; callers should invoke this
// during graceful shutdown.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var firstErr error
	for target, conn := range a.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("adapter/grpcadapter: close %s: %w", target, err)
		}
	}
	a.conns = make(map[string]*grpc.ClientConn)
	return firstErr
}
