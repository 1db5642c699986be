package types

import "fmt"

// Event is the kind of a record item, the low EventBits of the packed
// time/event word.
type Event uint32

// System events. EMPTY and VERSION come first, the remaining kinds are
// sorted by name. The values are part of the wire format.
const (
	EventEmpty Event = iota
	EventVersion
	EventAcceptEntry
	EventAcceptExit
	EventAddress
	EventAlignedAllocEntry
	EventAlignedAllocExit
	EventArch
	EventArg0
	EventArg1
	EventArg2
	EventArg3
	EventArg4
	EventArg5
	EventArg6
	EventArg7
	EventArg8
	EventArg9
	EventBindEntry
	EventBindExit
	EventBSP
	EventBuffer
	EventCaller
	EventCallocEntry
	EventCallocExit
	EventCloseEntry
	EventCloseExit
	EventConnectEntry
	EventConnectExit
	EventEtherInput
	EventEtherOutput
	EventFcntlEntry
	EventFcntlExit
	EventFdatasyncEntry
	EventFdatasyncExit
	EventFreeEntry
	EventFreeExit
	EventFrequency
	EventFstatEntry
	EventFstatExit
	EventFsyncEntry
	EventFsyncExit
	EventFtruncateEntry
	EventFtruncateExit
	EventFunctionEntry
	EventFunctionExit
	EventGetsockoptEntry
	EventGetsockoptExit
	EventHeapAlloc
	EventHeapFree
	EventHeapSize
	EventHeapUsage
	EventInterruptBegin
	EventInterruptEnd
	EventInterruptInstall
	EventInterruptRemove
	EventInterruptServerTrigger
	EventIoctlEntry
	EventIoctlExit
	EventIP6Input
	EventIP6Output
	EventIPInput
	EventIPOutput
	EventISRDisable
	EventISREnable
	EventKeventEntry
	EventKeventExit
	EventLength
	EventLine
	EventLinkEntry
	EventLinkExit
	EventListenEntry
	EventListenExit
	EventLseekEntry
	EventLseekExit
	EventMallocEntry
	EventMallocExit
	EventMmapEntry
	EventMmapExit
	EventMountEntry
	EventMountExit
	EventMultilib
	EventOpenEntry
	EventOpenExit
	EventPageAlloc
	EventPageFree
	EventPerCPUCount
	EventPerCPUHead
	EventPerCPUOverflow
	EventPerCPUTail
	EventPollEntry
	EventPollExit
	EventProcessor
	EventProcessorMaximum
	EventReadvEntry
	EventReadvExit
	EventReadEntry
	EventReadExit
	EventReallocEntry
	EventReallocExit
	EventRecvEntry
	EventRecvExit
	EventReturn0
	EventReturn1
	EventReturn2
	EventReturn3
	EventReturn4
	EventReturn5
	EventReturn6
	EventReturn7
	EventReturn8
	EventReturn9
	EventSelectEntry
	EventSelectExit
	EventSemaphoreObtain
	EventSemaphoreRelease
	EventSendEntry
	EventSendExit
	EventShutdownEntry
	EventShutdownExit
	EventSocketEntry
	EventSocketExit
	EventTCPClose
	EventTCPInput
	EventTCPOutput
	EventThreadBegin
	EventThreadCreate
	EventThreadDelete
	EventThreadExit
	EventThreadExitted
	EventThreadID
	EventThreadName
	EventThreadPrioCurrentHigh
	EventThreadPrioCurrentLow
	EventThreadPrioRealHigh
	EventThreadPrioRealLow
	EventThreadQueueEnqueue
	EventThreadQueueExtract
	EventThreadQueueSurrender
	EventThreadRestart
	EventThreadStackCurrent
	EventThreadStackSize
	EventThreadStackUsage
	EventThreadStart
	EventThreadStateClear
	EventThreadStateSet
	EventThreadSwitchIn
	EventThreadSwitchOut
	EventThreadTerminate
	EventTools
	EventUDPInput
	EventUDPOutput
	EventUptimeHigh
	EventUptimeLow
	EventVersionControlKey
	EventWorkspaceAlloc
	EventWorkspaceFree
	EventWorkspaceSize
	EventWorkspaceUsage
	EventWritevEntry
	EventWritevExit
	EventWriteEntry
	EventWriteExit

	// EventLastSystem is the last kind reserved for system events.
	EventLastSystem Event = 511

	// EventUser is the first user defined kind.
	EventUser Event = 512

	// EventLast is the largest representable kind.
	EventLast Event = EventMask
)

// eventNames is indexed by Event and follows the order of the constants above.
var eventNames = [...]string{
	"EMPTY",
	"VERSION",
	"ACCEPT_ENTRY",
	"ACCEPT_EXIT",
	"ADDRESS",
	"ALIGNED_ALLOC_ENTRY",
	"ALIGNED_ALLOC_EXIT",
	"ARCH",
	"ARG_0",
	"ARG_1",
	"ARG_2",
	"ARG_3",
	"ARG_4",
	"ARG_5",
	"ARG_6",
	"ARG_7",
	"ARG_8",
	"ARG_9",
	"BIND_ENTRY",
	"BIND_EXIT",
	"BSP",
	"BUFFER",
	"CALLER",
	"CALLOC_ENTRY",
	"CALLOC_EXIT",
	"CLOSE_ENTRY",
	"CLOSE_EXIT",
	"CONNECT_ENTRY",
	"CONNECT_EXIT",
	"ETHER_INPUT",
	"ETHER_OUTPUT",
	"FCNTL_ENTRY",
	"FCNTL_EXIT",
	"FDATASYNC_ENTRY",
	"FDATASYNC_EXIT",
	"FREE_ENTRY",
	"FREE_EXIT",
	"FREQUENCY",
	"FSTAT_ENTRY",
	"FSTAT_EXIT",
	"FSYNC_ENTRY",
	"FSYNC_EXIT",
	"FTRUNCATE_ENTRY",
	"FTRUNCATE_EXIT",
	"FUNCTION_ENTRY",
	"FUNCTION_EXIT",
	"GETSOCKOPT_ENTRY",
	"GETSOCKOPT_EXIT",
	"HEAP_ALLOC",
	"HEAP_FREE",
	"HEAP_SIZE",
	"HEAP_USAGE",
	"INTERRUPT_BEGIN",
	"INTERRUPT_END",
	"INTERRUPT_INSTALL",
	"INTERRUPT_REMOVE",
	"INTERRUPT_SERVER_TRIGGER",
	"IOCTL_ENTRY",
	"IOCTL_EXIT",
	"IP6_INPUT",
	"IP6_OUTPUT",
	"IP_INPUT",
	"IP_OUTPUT",
	"ISR_DISABLE",
	"ISR_ENABLE",
	"KEVENT_ENTRY",
	"KEVENT_EXIT",
	"LENGTH",
	"LINE",
	"LINK_ENTRY",
	"LINK_EXIT",
	"LISTEN_ENTRY",
	"LISTEN_EXIT",
	"LSEEK_ENTRY",
	"LSEEK_EXIT",
	"MALLOC_ENTRY",
	"MALLOC_EXIT",
	"MMAP_ENTRY",
	"MMAP_EXIT",
	"MOUNT_ENTRY",
	"MOUNT_EXIT",
	"MULTILIB",
	"OPEN_ENTRY",
	"OPEN_EXIT",
	"PAGE_ALLOC",
	"PAGE_FREE",
	"PER_CPU_COUNT",
	"PER_CPU_HEAD",
	"PER_CPU_OVERFLOW",
	"PER_CPU_TAIL",
	"POLL_ENTRY",
	"POLL_EXIT",
	"PROCESSOR",
	"PROCESSOR_MAXIMUM",
	"READV_ENTRY",
	"READV_EXIT",
	"READ_ENTRY",
	"READ_EXIT",
	"REALLOC_ENTRY",
	"REALLOC_EXIT",
	"RECV_ENTRY",
	"RECV_EXIT",
	"RETURN_0",
	"RETURN_1",
	"RETURN_2",
	"RETURN_3",
	"RETURN_4",
	"RETURN_5",
	"RETURN_6",
	"RETURN_7",
	"RETURN_8",
	"RETURN_9",
	"SELECT_ENTRY",
	"SELECT_EXIT",
	"SEMAPHORE_OBTAIN",
	"SEMAPHORE_RELEASE",
	"SEND_ENTRY",
	"SEND_EXIT",
	"SHUTDOWN_ENTRY",
	"SHUTDOWN_EXIT",
	"SOCKET_ENTRY",
	"SOCKET_EXIT",
	"TCP_CLOSE",
	"TCP_INPUT",
	"TCP_OUTPUT",
	"THREAD_BEGIN",
	"THREAD_CREATE",
	"THREAD_DELETE",
	"THREAD_EXIT",
	"THREAD_EXITTED",
	"THREAD_ID",
	"THREAD_NAME",
	"THREAD_PRIO_CURRENT_HIGH",
	"THREAD_PRIO_CURRENT_LOW",
	"THREAD_PRIO_REAL_HIGH",
	"THREAD_PRIO_REAL_LOW",
	"THREAD_QUEUE_ENQUEUE",
	"THREAD_QUEUE_EXTRACT",
	"THREAD_QUEUE_SURRENDER",
	"THREAD_RESTART",
	"THREAD_STACK_CURRENT",
	"THREAD_STACK_SIZE",
	"THREAD_STACK_USAGE",
	"THREAD_START",
	"THREAD_STATE_CLEAR",
	"THREAD_STATE_SET",
	"THREAD_SWITCH_IN",
	"THREAD_SWITCH_OUT",
	"THREAD_TERMINATE",
	"TOOLS",
	"UDP_INPUT",
	"UDP_OUTPUT",
	"UPTIME_HIGH",
	"UPTIME_LOW",
	"VERSION_CONTROL_KEY",
	"WORKSPACE_ALLOC",
	"WORKSPACE_FREE",
	"WORKSPACE_SIZE",
	"WORKSPACE_USAGE",
	"WRITEV_ENTRY",
	"WRITEV_EXIT",
	"WRITE_ENTRY",
	"WRITE_EXIT",
}

var eventsByName = func() map[string]Event {
	m := make(map[string]Event, len(eventNames))
	for i, name := range eventNames {
		m[name] = Event(i)
	}
	return m
}()

// User returns the user defined kind with the given number.
func User(n uint32) Event {
	return EventUser + Event(n&(EventMask>>1))
}

// IsUser reports whether the kind belongs to the user defined range.
func (e Event) IsUser() bool {
	return e >= EventUser && e <= EventLast
}

func (e Event) String() string {
	if int(e) < len(eventNames) {
		return eventNames[e]
	}
	if e.IsUser() {
		return fmt.Sprintf("USER_%d", e-EventUser)
	}
	return fmt.Sprintf("SYSTEM_%d", uint32(e))
}

// ParseEvent is the inverse of Event.String.
func ParseEvent(name string) (Event, bool) {
	if e, ok := eventsByName[name]; ok {
		return e, true
	}
	var n uint32
	if _, err := fmt.Sscanf(name, "USER_%d", &n); err == nil && n <= uint32(EventLast-EventUser) {
		return EventUser + Event(n), true
	}
	if _, err := fmt.Sscanf(name, "SYSTEM_%d", &n); err == nil && n <= uint32(EventLastSystem) {
		return Event(n), true
	}
	return EventEmpty, false
}
