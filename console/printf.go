package console

// A minimal %-formatter over the raw sink. The boot path cannot lean on fmt
// before the runtime is fully up, so this supports exactly the verbs the
// boot code uses: %d, %u, %x, %s, %c and %%. A verb that does not match its
// argument prints '?' so a bad format string is visible rather than fatal.

func appendInt(buf []byte, num int64) []byte {
	if num < 0 {
		buf = append(buf, '-')
		return appendUint(buf, uint64(-num), 10)
	}
	return appendUint(buf, uint64(num), 10)
}

func appendUint(buf []byte, num uint64, base uint64) []byte {
	const digits = "0123456789abcdef"
	var tmp [20]byte
	i := 0
	for {
		tmp[i] = digits[num%base]
		i++
		num /= base
		if num == 0 {
			break
		}
	}
	for i--; i >= 0; i-- {
		buf = append(buf, tmp[i])
	}
	return buf
}

func signed(arg interface{}) (int64, bool) {
	switch v := arg.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	}
	return 0, false
}

func unsigned(arg interface{}) (uint64, bool) {
	switch v := arg.(type) {
	case uint:
		return uint64(v), true
	case uint32:
		return uint64(v), true
	case uint64:
		return v, true
	case uintptr:
		return uint64(v), true
	case byte:
		return uint64(v), true
	}
	return 0, false
}

func appendArg(buf []byte, verb byte, arg interface{}) []byte {
	switch verb {
	case 'd':
		if n, ok := signed(arg); ok {
			return appendInt(buf, n)
		}
		if n, ok := unsigned(arg); ok {
			return appendUint(buf, n, 10)
		}
	case 'u':
		if n, ok := unsigned(arg); ok {
			return appendUint(buf, n, 10)
		}
	case 'x':
		if n, ok := unsigned(arg); ok {
			return appendUint(buf, n, 16)
		}
		if n, ok := signed(arg); ok {
			return appendUint(buf, uint64(n), 16)
		}
	case 's':
		switch v := arg.(type) {
		case string:
			return append(buf, v...)
		case []byte:
			return append(buf, v...)
		case error:
			return append(buf, v.Error()...)
		}
	case 'c':
		switch v := arg.(type) {
		case byte:
			return append(buf, v)
		case rune:
			return append(buf, byte(v))
		case int:
			return append(buf, byte(v))
		}
	}
	return append(buf, '?')
}

// Printf formats into a single sink write. With no sink installed it is a
// no-op.
func Printf(format string, args ...interface{}) {
	if sink == nil {
		return
	}
	buf := make([]byte, 0, 128)
	argIdx := 0
	for i := 0; i < len(format); i++ {
		if format[i] != '%' || i+1 == len(format) {
			buf = append(buf, format[i])
			continue
		}
		i++
		verb := format[i]
		if verb == '%' {
			buf = append(buf, '%')
			continue
		}
		if argIdx >= len(args) {
			buf = append(buf, '%', verb)
			continue
		}
		buf = appendArg(buf, verb, args[argIdx])
		argIdx++
	}
	sink.WriteBytes(buf)
}
