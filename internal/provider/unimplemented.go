package provider

// UnimplementedContext can be embedded in a host Context to default every
// method to "absent". Hosts override the subsystems they support.
type UnimplementedContext struct{}

func (UnimplementedContext) Data() map[string]any  { return nil }
func (UnimplementedContext) AllowedCaps() []string { return nil }
func (UnimplementedContext) TenantID() string      { return "" }
func (UnimplementedContext) OwnerTenantID() string { return "" }
func (UnimplementedContext) CurrentUser() string   { return "" }

func (UnimplementedContext) KVProvider(ExecutorScope) (KVProvider, bool) { return nil, false }

func (UnimplementedContext) GlobalKVProvider(ExecutorScope) (GlobalKVProvider, bool) {
	return nil, false
}

func (UnimplementedContext) DiscordProvider(ExecutorScope) (DiscordProvider, bool) {
	return nil, false
}

func (UnimplementedContext) LockdownProvider(ExecutorScope) (LockdownProvider, bool) {
	return nil, false
}

func (UnimplementedContext) UserInfoProvider(ExecutorScope) (UserInfoProvider, bool) {
	return nil, false
}

func (UnimplementedContext) StingProvider(ExecutorScope) (StingProvider, bool) {
	return nil, false
}

func (UnimplementedContext) ScheduledExecProvider(ExecutorScope) (ScheduledExecProvider, bool) {
	return nil, false
}

func (UnimplementedContext) PageProvider(ExecutorScope) (PageProvider, bool) { return nil, false }

func (UnimplementedContext) ObjectStorageProvider(ExecutorScope) (ObjectStorageProvider, bool) {
	return nil, false
}

func (UnimplementedContext) RuntimeProvider(ExecutorScope) (RuntimeProvider, bool) {
	return nil, false
}

var _ Context = UnimplementedContext{}
