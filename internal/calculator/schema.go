package calculator

import (
	"fmt"
	"strings"
	"sync"

	"github.com/jhump/protoreflect/v2/protobuilder"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
)

const (
	Package          = "calculator"
	IntCalculator    = Package + ".IntCalculator"
	VectorCalculator = Package + ".VectorCalculator"
)

// File returns the descriptor of calculator.proto. It is built once.
func File() (protoreflect.FileDescriptor, error) {
	return buildOnce()
}

var buildOnce = sync.OnceValues(buildFile)

// Files returns a registry holding only calculator.proto.
func Files() (*protoregistry.Files, error) {
	fd, err := File()
	if err != nil {
		return nil, err
	}
	files := new(protoregistry.Files)
	if err := files.RegisterFile(fd); err != nil {
		return nil, err
	}
	return files, nil
}

func buildFile() (protoreflect.FileDescriptor, error) {
	fb := protobuilder.NewFile("calculator.proto")
	fb.SetPackageName(Package)
	fb.SetSyntax(protoreflect.Proto3)

	binOp := newEnum("BinaryIntOp", "ADDI", "SUBI", "MULI", "DIVI", "MODI")
	accOp := newEnum("AccumulateVecOp", "MIN", "MAX", "ADD", "MUL")
	mapOp := newEnum("MapVecOp", "ID", "SIN", "COS", "SQUARE", "SQRT")
	for _, eb := range []*protobuilder.EnumBuilder{binOp, accOp, mapOp} {
		fb.AddEnum(eb)
	}

	intMsg := newMessage("Int", scalarField("value", protoreflect.Int32Kind))
	floatMsg := newMessage("Float", scalarField("value", protoreflect.DoubleKind))
	coeffs := scalarField("coeffs", protoreflect.DoubleKind)
	coeffs.SetRepeated()
	vecMsg := newMessage("FloatVector", coeffs)
	applyArg := newMessage("ApplyBinOpArg",
		enumField("op", binOp), messageField("arg1", intMsg), messageField("arg2", intMsg))
	evalArg := newMessage("EvaluateArg", enumField("op", binOp), messageField("arg", intMsg))
	primesArg := newMessage("FindPrimesArg", messageField("lb", intMsg), messageField("ub", intMsg))
	accArg := newMessage("AccumulateVecArg", enumField("op", accOp), messageField("vec", vecMsg))
	mapArg := newMessage("MapVecArg", enumField("op", mapOp), messageField("vec", vecMsg))
	dotArg := newMessage("DotArg", messageField("vec1", vecMsg), messageField("vec2", vecMsg))
	for _, mb := range []*protobuilder.MessageBuilder{
		intMsg, floatMsg, vecMsg, applyArg, evalArg, primesArg, accArg, mapArg, dotArg,
	} {
		fb.AddMessage(mb)
	}

	ic := protobuilder.NewService("IntCalculator")
	ic.SetComments(comment("Integer arithmetic over int32 values."))
	ic.AddMethod(newMethod("ApplyBinOp", applyArg, false, intMsg, false,
		"Applies op to arg1 and arg2."))
	ic.AddMethod(newMethod("Evaluate", evalArg, true, intMsg, true,
		"Folds each incoming operation into a running result starting at 0\nand streams the result after every step."))
	ic.AddMethod(newMethod("FindPrimes", primesArg, false, intMsg, true,
		"Streams the primes in [lb, ub)."))
	ic.AddMethod(newMethod("Sum", intMsg, true, intMsg, false,
		"Adds up every streamed value."))
	fb.AddService(ic)

	vc := protobuilder.NewService("VectorCalculator")
	vc.SetComments(comment("Operations over vectors of doubles."))
	vc.AddMethod(newMethod("AccumulateVec", accArg, false, floatMsg, false,
		"Reduces vec with op from left to right."))
	vc.AddMethod(newMethod("MapVec", mapArg, false, vecMsg, false,
		"Applies op to every coefficient."))
	vc.AddMethod(newMethod("Dot", dotArg, true, floatMsg, true,
		"Streams the dot product of each incoming vector pair."))
	fb.AddService(vc)

	fd, err := fb.Build()
	if err != nil {
		return nil, fmt.Errorf("calculator: build descriptors: %w", err)
	}
	return fd, nil
}

// newEnum numbers values in declaration order starting at zero.
func newEnum(name protoreflect.Name, values ...protoreflect.Name) *protobuilder.EnumBuilder {
	eb := protobuilder.NewEnum(name)
	for i, v := range values {
		evb := protobuilder.NewEnumValue(v)
		evb.SetNumber(protoreflect.EnumNumber(i))
		eb.AddValue(evb)
	}
	return eb
}

// newMessage numbers fields in declaration order starting at one.
func newMessage(name protoreflect.Name, fields ...*protobuilder.FieldBuilder) *protobuilder.MessageBuilder {
	mb := protobuilder.NewMessage(name)
	for i, fb := range fields {
		fb.SetNumber(protoreflect.FieldNumber(i + 1))
		mb.AddField(fb)
	}
	return mb
}

func scalarField(name protoreflect.Name, kind protoreflect.Kind) *protobuilder.FieldBuilder {
	return protobuilder.NewField(name, protobuilder.FieldTypeScalar(kind))
}

func enumField(name protoreflect.Name, eb *protobuilder.EnumBuilder) *protobuilder.FieldBuilder {
	return protobuilder.NewField(name, protobuilder.FieldTypeEnum(eb))
}

func messageField(name protoreflect.Name, mb *protobuilder.MessageBuilder) *protobuilder.FieldBuilder {
	return protobuilder.NewField(name, protobuilder.FieldTypeMessage(mb))
}

func newMethod(name protoreflect.Name, in *protobuilder.MessageBuilder, clientStream bool,
	out *protobuilder.MessageBuilder, serverStream bool, doc string) *protobuilder.MethodBuilder {
	mtb := protobuilder.NewMethod(name,
		protobuilder.RpcTypeMessage(in, clientStream),
		protobuilder.RpcTypeMessage(out, serverStream),
	)
	mtb.SetComments(comment(doc))
	return mtb
}

func comment(desc string) protobuilder.Comments {
	if desc == "" {
		return protobuilder.Comments{}
	}
	// Prefix each line with a space and ensure trailing newline.
	lines := strings.Split(desc, "\n")
	for i, line := range lines {
		lines[i] = " " + line
	}
	return protobuilder.Comments{LeadingComment: strings.Join(lines, "\n") + "\n"}
}
