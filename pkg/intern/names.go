package intern

// Internal names of classes the VM itself needs to reference. They are
// interned at pool construction so their IDs can be read without a lookup.
var wellKnownNames = []string{
	"java/lang/Object",
	"java/lang/Class",
	"java/lang/String",
	"java/lang/Throwable",
	"java/lang/Error",
	"java/lang/Exception",
	"java/lang/RuntimeException",
	"java/lang/ClassFormatError",
	"java/lang/NoClassDefFoundError",
	"java/lang/ClassCircularityError",
	"java/lang/VerifyError",
	"java/lang/ClassNotFoundException",
	"java/lang/LinkageError",
	"java/lang/ExceptionInInitializerError",
	"java/lang/OutOfMemoryError",
	"java/lang/NullPointerException",
	"java/lang/ArrayIndexOutOfBoundsException",
	"java/lang/ClassCastException",
	"java/lang/ArithmeticException",
	"java/lang/StackOverflowError",
	"java/lang/NegativeArraySizeException",
	"java/lang/InstantiationError",
	"java/lang/IncompatibleClassChangeError",
	"java/lang/AbstractMethodError",
	"java/lang/NoSuchMethodError",
	"java/lang/NoSuchFieldError",
	"java/lang/UnsatisfiedLinkError",
	"java/lang/ArrayStoreException",
	"java/lang/IllegalMonitorStateException",
	"java/lang/Cloneable",
	"java/io/Serializable",
	"java/lang/invoke/MethodHandle",
	"java/lang/invoke/CallSite",
	"<init>",
	"<clinit>",
	"main",
}

// IDs of the well-known names above. Resolved once at startup.
var (
	JavaLangObject    = AddString("java/lang/Object")
	JavaLangClass     = AddString("java/lang/Class")
	JavaLangString    = AddString("java/lang/String")
	JavaLangThrowable = AddString("java/lang/Throwable")
	JavaLangError     = AddString("java/lang/Error")

	ClassFormatError              = AddString("java/lang/ClassFormatError")
	NoClassDefFoundError          = AddString("java/lang/NoClassDefFoundError")
	ClassCircularityError         = AddString("java/lang/ClassCircularityError")
	VerifyError                   = AddString("java/lang/VerifyError")
	ClassNotFoundException        = AddString("java/lang/ClassNotFoundException")
	LinkageError                  = AddString("java/lang/LinkageError")
	ExceptionInInitializerError   = AddString("java/lang/ExceptionInInitializerError")
	OutOfMemoryError              = AddString("java/lang/OutOfMemoryError")
	NullPointerException          = AddString("java/lang/NullPointerException")
	ArrayIndexOutOfBounds         = AddString("java/lang/ArrayIndexOutOfBoundsException")
	ClassCastException            = AddString("java/lang/ClassCastException")
	ArithmeticException           = AddString("java/lang/ArithmeticException")
	StackOverflowError            = AddString("java/lang/StackOverflowError")
	NegativeArraySizeException    = AddString("java/lang/NegativeArraySizeException")
	InstantiationError            = AddString("java/lang/InstantiationError")
	IncompatibleClassChangeError  = AddString("java/lang/IncompatibleClassChangeError")
	AbstractMethodError           = AddString("java/lang/AbstractMethodError")
	NoSuchMethodError             = AddString("java/lang/NoSuchMethodError")
	NoSuchFieldError              = AddString("java/lang/NoSuchFieldError")
	UnsatisfiedLinkError          = AddString("java/lang/UnsatisfiedLinkError")
	ArrayStoreException           = AddString("java/lang/ArrayStoreException")
	IllegalMonitorStateException  = AddString("java/lang/IllegalMonitorStateException")

	InitName   = AddString("<init>")
	ClinitName = AddString("<clinit>")
	MainName   = AddString("main")
)
