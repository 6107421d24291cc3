package vf

/*
#cgo CFLAGS: -x objective-c -fno-objc-arc
#cgo LDFLAGS: -lobjc -framework Foundation -framework Virtualization

#import <Foundation/Foundation.h>
#import <Virtualization/Virtualization.h>

// _VZVNCServer is private API. There is no public way to export a
// VZVirtualMachine display over VNC, so the classes are resolved at
// runtime and messaged through declared interfaces; nothing links
// against the private symbols.
@interface _VZVNCAuthenticationSecurityConfiguration : NSObject
- (instancetype)initWithPassword:(NSString *)password;
@end

@interface _VZVNCNoSecuritySecurityConfiguration : NSObject
- (instancetype)init;
@end

@interface _VZVNCServer : NSObject
@property (weak) VZVirtualMachine *virtualMachine;
@property (strong) id securityConfiguration;
@property (readonly) uint16_t port;
- (instancetype)initWithPort:(uint16_t)port queue:(dispatch_queue_t)queue;
- (void)start;
- (void)stop;
@end

static void *vnc_server_new(void *vm, uint16_t port, const char *password) {
	Class serverClass = NSClassFromString(@"_VZVNCServer");
	if (!serverClass) {
		return NULL;
	}
	dispatch_queue_t queue = dispatch_queue_create("com.github.macvz.vzvmm.vnc", DISPATCH_QUEUE_SERIAL);
	_VZVNCServer *server = [[serverClass alloc] initWithPort:port queue:queue];
	if (!server) {
		return NULL;
	}

	id security = nil;
	if (password && password[0] != '\0') {
		Class authClass = NSClassFromString(@"_VZVNCAuthenticationSecurityConfiguration");
		security = [[authClass alloc] initWithPassword:[NSString stringWithUTF8String:password]];
	} else {
		Class noAuthClass = NSClassFromString(@"_VZVNCNoSecuritySecurityConfiguration");
		security = [[noAuthClass alloc] init];
	}
	if (security) {
		server.securityConfiguration = security;
		[security release];
	}
	server.virtualMachine = (VZVirtualMachine *)vm;
	return server;
}

static uint16_t vnc_server_port(void *srv) {
	return ((_VZVNCServer *)srv).port;
}

static void vnc_server_start(void *srv) {
	[(_VZVNCServer *)srv start];
}

static void vnc_server_stop(void *srv) {
	[(_VZVNCServer *)srv stop];
}

static void vnc_server_free(void *srv) {
	[(_VZVNCServer *)srv release];
}
*/
import "C"

import (
	"fmt"
	"reflect"
	"sync"
	"unsafe"

	"github.com/Code-Hex/vz/v3"
	log "github.com/sirupsen/logrus"
)

// objcHandle digs the underlying Objective-C object pointer out of a vz
// wrapper struct. vz does not export its handles, and the private VNC
// server can only be attached to the raw VZVirtualMachine object.
func objcHandle(obj interface{}) unsafe.Pointer {
	v := reflect.ValueOf(obj)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		if field.CanAddr() {
			field = reflect.NewAt(field.Type(), unsafe.Pointer(field.UnsafeAddr())).Elem()
		}
		switch field.Kind() {
		case reflect.UnsafePointer:
			return unsafe.Pointer(field.Pointer())
		case reflect.Pointer, reflect.Struct:
			if ptr := objcHandle(field.Interface()); ptr != nil {
				return ptr
			}
		}
	}
	return nil
}

// vncServer exports one graphics device over VNC through the private
// framework server. It is driven from the domain's display queue.
type vncServer struct {
	port int

	mu  sync.Mutex
	ptr unsafe.Pointer
}

func newVNCServer(vm *vz.VirtualMachine, port int) (*vncServer, error) {
	handle := objcHandle(vm)
	if handle == nil {
		return nil, fmt.Errorf("cannot resolve the virtual machine handle for the vnc server")
	}
	ptr := C.vnc_server_new(handle, C.uint16_t(port), nil)
	if ptr == nil {
		return nil, fmt.Errorf("the vnc server is not available on this host")
	}
	return &vncServer{
		port: port,
		ptr:  ptr,
	}, nil
}

func (srv *vncServer) Start() error {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.ptr == nil {
		return fmt.Errorf("the vnc server was already stopped")
	}
	C.vnc_server_start(srv.ptr)
	// port 0 asks the framework to pick a free port
	port := int(C.vnc_server_port(srv.ptr))
	log.Infof("vnc server listening on port %d", port)
	return nil
}

func (srv *vncServer) Stop() error {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.ptr == nil {
		return nil
	}
	C.vnc_server_stop(srv.ptr)
	C.vnc_server_free(srv.ptr)
	srv.ptr = nil
	return nil
}
