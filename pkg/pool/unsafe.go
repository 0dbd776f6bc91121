package pool

import "unsafe"

func uintptrSub[T any](a, b *T) uintptr {
	return uintptr(unsafe.Pointer(a)) - uintptr(unsafe.Pointer(b))
}

func uintptrSizeof[T any](v T) uintptr {
	return unsafe.Sizeof(v)
}
